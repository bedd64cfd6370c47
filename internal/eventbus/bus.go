package eventbus

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// DefaultQueueSize 每个订阅者的默认队列长度
const DefaultQueueSize = 256

// Bus 状态事件总线
//
// 每个订阅者拥有独立的有界队列，队列满时丢弃最旧的事件，发布者永不阻塞。
// 同一实例的事件由存储层在实例锁内发布，因此按发布顺序投递。
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64
	queueSize int
	closed    bool

	published metrics.Meter
	dropped   metrics.Meter
}

// Option 总线配置项
type Option func(*Bus)

// WithQueueSize 设置订阅队列长度
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithMetrics 使用指定的指标注册表
func WithMetrics(r metrics.Registry) Option {
	return func(b *Bus) {
		b.published = metrics.GetOrRegisterMeter("bus.published", r)
		b.dropped = metrics.GetOrRegisterMeter("bus.dropped", r)
	}
}

// New 创建事件总线
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[uint64]*Subscription),
		queueSize: DefaultQueueSize,
		published: metrics.NilMeter{},
		dropped:   metrics.NilMeter{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish 向所有订阅者投递事件，不会阻塞
func (b *Bus) Publish(event model.InstanceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Mark(1)
	for _, sub := range b.subs {
		if sub.offer(event) {
			b.dropped.Mark(1)
		}
	}
}

// Subscribe 创建新的订阅，只接收订阅之后发布的事件
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan model.InstanceEvent, b.queueSize),
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// SubscriberCount 返回当前订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭总线及所有订阅
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.shutdown()
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		sub.shutdown()
		delete(b.subs, id)
	}
}

// Subscription 单个订阅
type Subscription struct {
	id      uint64
	bus     *Bus
	mu      sync.Mutex
	ch      chan model.InstanceEvent
	closed  bool
	dropped atomic.Int64
}

// offer 入队，队列满时丢弃最旧事件；返回是否发生丢弃
func (s *Subscription) offer(event model.InstanceEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return false
	default:
	}

	// 队列已满，丢弃最旧的一条
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
	return true
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Events 返回事件通道，订阅关闭后通道关闭
func (s *Subscription) Events() <-chan model.InstanceEvent {
	return s.ch
}

// All 以惰性序列方式遍历事件，直到订阅关闭或ctx取消
func (s *Subscription) All(ctx context.Context) iter.Seq[model.InstanceEvent] {
	return func(yield func(model.InstanceEvent) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-s.ch:
				if !ok || !yield(ev) {
					return
				}
			}
		}
	}
}

// Dropped 返回因队列已满而丢弃的事件数
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.bus.remove(s.id)
}
