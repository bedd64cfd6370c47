package poller

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/eventbus"
	"github.com/hewenyu/instance-admin/internal/store/instance"
)

// Poller 周期性探测所有已注册实例的健康状态
type Poller struct {
	store  instance.InstanceStore
	bus    *eventbus.Bus
	prober *Prober
	cfg    config.PollerConfig
	logger config.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   map[string]*task
	ctx     context.Context
	cancel  context.CancelFunc
	sub     *eventbus.Subscription
	wg      sync.WaitGroup
	stopped bool

	probes   metrics.Meter
	up       metrics.Meter
	down     metrics.Meter
	offline  metrics.Meter
	latency  metrics.Timer
	tracked  metrics.Gauge
	failures metrics.Counter
}

// task 单个实例的探测任务
type task struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu 串行化同一实例的探测
	mu       sync.Mutex
	failures int
	policy   *retryPolicy
}

// NewPoller 创建探测器
func NewPoller(store instance.InstanceStore, bus *eventbus.Bus, prober *Prober, cfg config.PollerConfig, registry metrics.Registry, logger config.Logger) *Poller {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &Poller{
		store:    store,
		bus:      bus,
		prober:   prober,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		tasks:    make(map[string]*task),
		probes:   metrics.GetOrRegisterMeter("probe.total", registry),
		up:       metrics.GetOrRegisterMeter("probe.up", registry),
		down:     metrics.GetOrRegisterMeter("probe.down", registry),
		offline:  metrics.GetOrRegisterMeter("probe.offline", registry),
		latency:  metrics.GetOrRegisterTimer("probe.latency", registry),
		tracked:  metrics.GetOrRegisterGauge("poller.tracked", registry),
		failures: metrics.GetOrRegisterCounter("probe.failures", registry),
	}
}

// Start 订阅实例事件并开始探测已存在的实例
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return errors.New("探测器已启动")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	// 先订阅再对账，避免遗漏两者之间注册的实例
	p.sub = p.bus.Subscribe()
	p.mu.Unlock()

	if err := p.Reconcile(ctx); err != nil {
		p.logger.Warn("初始实例对账失败", zap.Error(err))
	}

	p.wg.Add(1)
	go p.watch()

	if p.cfg.ReconcileInterval > 0 {
		p.wg.Add(1)
		go p.reconcileLoop()
	}

	p.logger.Info("健康探测器已启动",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("timeout", p.cfg.Timeout))
	return nil
}

// Stop 停止所有探测任务
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.ctx == nil || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	p.sub.Close()
	for id, t := range p.tasks {
		t.cancel()
		delete(p.tasks, id)
	}
	p.tracked.Update(0)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("健康探测器已停止")
}

func (p *Poller) watch() {
	defer p.wg.Done()
	for ev := range p.sub.All(p.ctx) {
		switch ev.Type {
		case model.EventRegistered:
			p.Track(ev.InstanceID)
		case model.EventRemoved:
			p.Untrack(ev.InstanceID)
		}
	}
}

func (p *Poller) reconcileLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.Reconcile(p.ctx); err != nil {
				p.logger.Warn("实例对账失败", zap.Error(err))
			}
		}
	}
}

// Reconcile 使探测任务与存储中的实例保持一致
func (p *Poller) Reconcile(ctx context.Context) error {
	instances, err := p.store.List(ctx)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		present[inst.ID] = struct{}{}
		p.Track(inst.ID)
	}

	for _, id := range p.Tracked() {
		if _, ok := present[id]; !ok {
			p.Untrack(id)
		}
	}
	return nil
}

// Track 开始探测实例，已在探测的实例不受影响
func (p *Poller) Track(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil || p.stopped {
		return false
	}
	if _, ok := p.tasks[id]; ok {
		return false
	}

	t := p.newTask(id)
	p.tasks[id] = t
	p.tracked.Update(int64(len(p.tasks)))

	p.wg.Add(1)
	go p.run(t)
	return true
}

func (p *Poller) newTask(id string) *task {
	ctx, cancel := context.WithCancel(p.ctx)
	return &task{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		policy: newRetryPolicy(p.cfg.Interval, p.cfg.BackoffMultiplier, p.cfg.BackoffMax, p.cfg.FailureThreshold),
	}
}

// Untrack 停止探测实例并取消进行中的请求
func (p *Poller) Untrack(id string) bool {
	p.mu.Lock()
	t, ok := p.tasks[id]
	if ok {
		delete(p.tasks, id)
		p.tracked.Update(int64(len(p.tasks)))
	}
	p.mu.Unlock()

	if ok {
		t.cancel()
		p.logger.Debug("停止探测实例", zap.String("instance_id", id))
	}
	return ok
}

// Tracked 返回正在探测的实例ID
func (p *Poller) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	return ids
}

// ProbeNow 立即探测实例并返回探测后的实例
func (p *Poller) ProbeNow(ctx context.Context, id string) (*model.Instance, error) {
	if _, err := p.store.Get(ctx, id); err != nil {
		return nil, err
	}

	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		if p.Track(id) {
			p.mu.Lock()
			t = p.tasks[id]
			p.mu.Unlock()
		}
		if t == nil {
			// 探测器未启动，使用独立任务
			t = &task{id: id, ctx: ctx, cancel: func() {}, policy: newRetryPolicy(p.cfg.Interval, p.cfg.BackoffMultiplier, p.cfg.BackoffMax, p.cfg.FailureThreshold)}
		}
	}

	probeCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	p.probe(probeCtx, t)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.store.Get(ctx, id)
}

func (p *Poller) run(t *task) {
	defer p.wg.Done()
	defer close(t.done)

	timer := time.NewTimer(p.initialDelay(t.id))
	defer timer.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-timer.C:
		}
		delay := p.probe(t.ctx, t)
		if t.ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}

// initialDelay 按实例ID的哈希在错峰窗口内分散首次探测
func (p *Poller) initialDelay(id string) time.Duration {
	if p.cfg.StaggerWindow <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return time.Duration(h.Sum64() % uint64(p.cfg.StaggerWindow))
}

// probe 执行一次探测并写入结果，返回下一次探测前的延迟
func (p *Poller) probe(ctx context.Context, t *task) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := p.logger.With(zap.String("instance_id", t.id))
	inst, err := p.store.Get(ctx, t.id)
	if err != nil {
		if model.IsNotFound(err) {
			p.Untrack(t.id)
		}
		return p.cfg.Interval
	}

	ts := p.now()
	result := p.prober.Probe(ctx, inst)

	// 被取消的探测不写入状态
	if ctx.Err() != nil {
		logger.Debug("探测已取消")
		return p.cfg.Interval
	}

	p.probes.Mark(1)
	p.latency.Update(result.Latency)
	switch result.Info.Status {
	case model.StatusUp:
		p.up.Mark(1)
	case model.StatusOffline:
		p.offline.Mark(1)
	default:
		p.down.Mark(1)
	}

	if _, err := p.store.UpdateStatus(ctx, t.id, result.Info, ts); err != nil {
		switch {
		case model.IsNotFound(err):
			p.Untrack(t.id)
		case model.IsStaleUpdate(err):
			logger.Debug("丢弃过期的探测结果", zap.Time("timestamp", ts))
		default:
			logger.Error("写入探测结果失败", zap.Error(err))
		}
		return p.cfg.Interval
	}

	if result.Reachable {
		if t.failures > 0 {
			logger.Info("实例恢复可达", zap.Int("previous_failures", t.failures))
		}
		t.failures = 0
		t.policy.Reset()
		return p.cfg.Interval
	}

	t.failures++
	p.failures.Inc(1)
	logger.Warn("探测实例失败",
		zap.String("name", inst.Registration.Name),
		zap.String("code", model.CodeOf(result.Err).String()),
		zap.Int("consecutive_failures", t.failures),
		zap.Error(result.Err))

	if p.cfg.ReapAfterFailures > 0 && t.failures >= p.cfg.ReapAfterFailures {
		logger.Warn("实例持续不可达，移除实例", zap.Int("failures", t.failures))
		if err := p.store.Remove(ctx, t.id, model.ReasonUnreachable); err != nil && !model.IsNotFound(err) {
			logger.Error("移除不可达实例失败", zap.Error(err))
		}
		return p.cfg.Interval
	}

	return t.policy.Next(t.failures)
}
