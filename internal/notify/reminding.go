package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// maxCheckInterval 提醒检查的最大间隔
const maxCheckInterval = 10 * time.Second

type reminder struct {
	event    model.InstanceEvent
	lastSent time.Time
}

// RemindingNotifier 对持续处于指定状态的实例周期性重发通知
type RemindingNotifier struct {
	delegate Notifier
	period   time.Duration
	statuses map[model.StatusValue]struct{}
	logger   config.Logger
	now      func() time.Time

	mu        sync.Mutex
	reminders map[string]*reminder
}

// NewRemindingNotifier 创建提醒通知器，statuses 为空时使用 DOWN 和 OFFLINE
func NewRemindingNotifier(delegate Notifier, period time.Duration, statuses []model.StatusValue, logger config.Logger) *RemindingNotifier {
	if len(statuses) == 0 {
		statuses = []model.StatusValue{model.StatusDown, model.StatusOffline}
	}
	set := make(map[model.StatusValue]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return &RemindingNotifier{
		delegate:  delegate,
		period:    period,
		statuses:  set,
		logger:    logger,
		now:       time.Now,
		reminders: make(map[string]*reminder),
	}
}

// Notify 转发事件并更新提醒列表
func (n *RemindingNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	err := n.delegate.Notify(ctx, event)

	n.mu.Lock()
	defer n.mu.Unlock()
	_, remind := n.statuses[event.Status]
	if event.Type == model.EventRemoved || !remind {
		delete(n.reminders, event.InstanceID)
	} else if event.Type == model.EventStatusChanged {
		n.reminders[event.InstanceID] = &reminder{event: event, lastSent: n.now()}
	}
	return err
}

// Pending 返回等待提醒的实例数
func (n *RemindingNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reminders)
}

// SendReminders 对超过提醒周期的实例重发通知
func (n *RemindingNotifier) SendReminders(ctx context.Context) int {
	now := n.now()

	n.mu.Lock()
	due := make([]model.InstanceEvent, 0)
	for _, r := range n.reminders {
		if now.Sub(r.lastSent) >= n.period {
			r.lastSent = now
			ev := r.event
			ev.Timestamp = now
			due = append(due, ev)
		}
	}
	n.mu.Unlock()

	for _, ev := range due {
		if err := n.delegate.Notify(ctx, ev); err != nil {
			n.logger.Warn("发送提醒失败", zap.String("instance_id", ev.InstanceID), zap.Error(err))
		}
	}
	return len(due)
}

// Start 周期性检查并发送提醒，直到ctx取消
func (n *RemindingNotifier) Start(ctx context.Context) {
	if n.period <= 0 {
		return
	}
	interval := n.period
	if interval > maxCheckInterval {
		interval = maxCheckInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.SendReminders(ctx)
			}
		}
	}()
}

// Close 关闭下游通知器
func (n *RemindingNotifier) Close() error {
	return closeNotifier(n.delegate)
}
