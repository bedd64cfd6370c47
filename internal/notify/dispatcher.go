package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/eventbus"
)

// Dispatcher 订阅事件总线并把事件交给通知器
type Dispatcher struct {
	bus      *eventbus.Bus
	notifier Notifier
	timeout  time.Duration
	logger   config.Logger

	sub  *eventbus.Subscription
	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewDispatcher 创建通知分发器，timeout 为单次通知的超时时间
func NewDispatcher(bus *eventbus.Bus, notifier Notifier, timeout time.Duration, logger config.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		bus:      bus,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start 开始分发事件
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.stop = context.WithCancel(ctx)
	d.sub = d.bus.Subscribe()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range d.sub.All(ctx) {
			nctx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.notifier.Notify(nctx, ev); err != nil {
				d.logger.Warn("发送通知失败",
					zap.String("type", string(ev.Type)),
					zap.String("instance_id", ev.InstanceID),
					zap.Error(err))
			}
			cancel()
		}
	}()
}

// Stop 停止分发并关闭通知器
func (d *Dispatcher) Stop() error {
	if d.stop == nil {
		return nil
	}
	d.stop()
	d.sub.Close()
	d.wg.Wait()
	if dropped := d.sub.Dropped(); dropped > 0 {
		d.logger.Warn("通知队列溢出丢弃了事件", zap.Int64("dropped", dropped))
	}
	return closeNotifier(d.notifier)
}
