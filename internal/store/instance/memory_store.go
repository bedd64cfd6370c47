package instance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// DefaultHistorySize 默认保留的状态历史条数
const DefaultHistorySize = 10

// record 单个实例的存储单元
//
// 写操作在 mu 内串行执行并在持锁期间发布事件，读操作只加载 snap。
type record struct {
	mu      sync.Mutex
	snap    atomic.Pointer[model.Instance]
	removed bool
}

// MemoryInstanceStore 基于内存的实例存储
type MemoryInstanceStore struct {
	mu      sync.RWMutex
	byID    map[string]*record
	byKey   map[string]string
	history int
	pub     Publisher
	now     func() time.Time
}

// Option 存储配置项
type Option func(*MemoryInstanceStore)

// WithHistorySize 设置状态历史长度
func WithHistorySize(n int) Option {
	return func(s *MemoryInstanceStore) {
		if n > 0 {
			s.history = n
		}
	}
}

// WithClock 替换时间来源，用于测试
func WithClock(now func() time.Time) Option {
	return func(s *MemoryInstanceStore) {
		s.now = now
	}
}

// NewMemoryInstanceStore 创建内存实例存储，pub 为空时不发布事件
func NewMemoryInstanceStore(pub Publisher, opts ...Option) *MemoryInstanceStore {
	if pub == nil {
		pub = nopPublisher{}
	}
	s := &MemoryInstanceStore{
		byID:    make(map[string]*record),
		byKey:   make(map[string]string),
		history: DefaultHistorySize,
		pub:     pub,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register 注册实例
func (s *MemoryInstanceStore) Register(ctx context.Context, reg model.Registration) (*model.Instance, bool, error) {
	reg = reg.Normalize()
	key := reg.Key()
	if key == "" {
		return nil, false, model.NewValidationError("缺少健康检查地址", nil)
	}

	for {
		s.mu.Lock()
		if id, ok := s.byKey[key]; ok {
			rec := s.byID[id]
			s.mu.Unlock()

			inst, ok := s.reregister(rec, reg)
			if !ok {
				// 并发移除，重新查找
				continue
			}
			return inst, false, nil
		}

		now := s.now()
		inst := &model.Instance{
			ID:              uuid.New().String(),
			Registration:    reg,
			StatusInfo:      model.StatusInfo{Status: model.StatusUnknown},
			StatusTimestamp: now,
			RegisteredAt:    now,
			LastHeartbeat:   now,
			Version:         1,
		}
		rec := &record{}
		rec.snap.Store(inst)
		rec.mu.Lock()
		s.byID[inst.ID] = rec
		s.byKey[key] = inst.ID
		s.mu.Unlock()

		s.pub.Publish(model.InstanceEvent{
			Type:       model.EventRegistered,
			InstanceID: inst.ID,
			Version:    inst.Version,
			Timestamp:  now,
			Status:     inst.Status(),
			Instance:   inst,
		})
		rec.mu.Unlock()
		return inst.Clone(), true, nil
	}
}

// reregister 处理重复注册：刷新心跳并替换元数据
func (s *MemoryInstanceStore) reregister(rec *record, reg model.Registration) (*model.Instance, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil, false
	}

	cur := rec.snap.Load()
	now := s.now()
	next := cur.Clone()
	next.Registration = reg
	next.LastHeartbeat = now
	next.Version++
	rec.snap.Store(next)

	if !cur.Registration.Equal(reg) {
		s.pub.Publish(model.InstanceEvent{
			Type:       model.EventRegistrationUpdated,
			InstanceID: next.ID,
			Version:    next.Version,
			Timestamp:  now,
			Status:     next.Status(),
			Instance:   next,
		})
	}
	return next.Clone(), true
}

func (s *MemoryInstanceStore) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	return rec, ok
}

// Get 获取实例详情
func (s *MemoryInstanceStore) Get(ctx context.Context, id string) (*model.Instance, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, model.NewNotFoundError(id)
	}
	return rec.snap.Load().Clone(), nil
}

// List 获取所有实例，按名称和ID排序
func (s *MemoryInstanceStore) List(ctx context.Context) ([]*model.Instance, error) {
	s.mu.RLock()
	instances := make([]*model.Instance, 0, len(s.byID))
	for _, rec := range s.byID {
		instances = append(instances, rec.snap.Load().Clone())
	}
	s.mu.RUnlock()

	model.SortInstances(instances)
	return instances, nil
}

// UpdateStatus 写入探测结果
func (s *MemoryInstanceStore) UpdateStatus(ctx context.Context, id string, info model.StatusInfo, ts time.Time) (*model.Instance, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, model.NewNotFoundError(id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil, model.NewNotFoundError(id)
	}

	cur := rec.snap.Load()
	if ts.Before(cur.LastChecked) {
		return nil, model.NewStaleUpdateError(id)
	}

	next := cur.Clone()
	next.StatusInfo = model.StatusInfo{Status: info.Status, Details: copyDetails(info.Details)}
	next.LastChecked = ts
	next.StatusHistory = append(next.StatusHistory, model.StatusEntry{Status: info.Status, Timestamp: ts})
	if over := len(next.StatusHistory) - s.history; over > 0 {
		next.StatusHistory = append([]model.StatusEntry(nil), next.StatusHistory[over:]...)
	}
	next.Version++

	changed := cur.Status() != info.Status
	if changed {
		next.StatusTimestamp = ts
	}
	rec.snap.Store(next)

	if changed {
		s.pub.Publish(model.InstanceEvent{
			Type:           model.EventStatusChanged,
			InstanceID:     id,
			Version:        next.Version,
			Timestamp:      ts,
			Status:         info.Status,
			PreviousStatus: cur.Status(),
			Instance:       next,
		})
	}
	return next.Clone(), nil
}

// Touch 续约心跳
func (s *MemoryInstanceStore) Touch(ctx context.Context, id string, ts time.Time) (*model.Instance, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, model.NewNotFoundError(id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil, model.NewNotFoundError(id)
	}

	next := rec.snap.Load().Clone()
	if ts.After(next.LastHeartbeat) {
		next.LastHeartbeat = ts
	}
	next.Version++
	rec.snap.Store(next)
	return next.Clone(), nil
}

// Remove 移除实例
func (s *MemoryInstanceStore) Remove(ctx context.Context, id string, reason string) error {
	_, err := s.RemoveIf(ctx, id, reason, nil)
	return err
}

// RemoveIf 在实例锁内检查条件，满足时移除实例
//
// cond 为nil时无条件移除。条件不满足时返回false，不发布事件。
func (s *MemoryInstanceStore) RemoveIf(ctx context.Context, id string, reason string, cond func(*model.Instance) bool) (bool, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return false, model.NewNotFoundError(id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return false, model.NewNotFoundError(id)
	}

	cur := rec.snap.Load()
	if cond != nil && !cond(cur.Clone()) {
		return false, nil
	}
	rec.removed = true

	s.mu.Lock()
	if s.byID[id] == rec {
		delete(s.byID, id)
	}
	key := cur.Registration.Key()
	if s.byKey[key] == id {
		delete(s.byKey, key)
	}
	s.mu.Unlock()

	final := cur.Clone()
	final.Version++
	rec.snap.Store(final)

	s.pub.Publish(model.InstanceEvent{
		Type:           model.EventRemoved,
		InstanceID:     id,
		Version:        final.Version,
		Timestamp:      s.now(),
		Status:         final.Status(),
		PreviousStatus: cur.Status(),
		Reason:         reason,
		Instance:       final,
	})
	return true, nil
}

// Restore 批量恢复实例，已存在的ID或注册标识会被跳过
func (s *MemoryInstanceStore) Restore(ctx context.Context, instances []*model.Instance) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, inst := range instances {
		if inst == nil || inst.ID == "" {
			continue
		}
		key := inst.Registration.Key()
		if key == "" {
			continue
		}
		if _, ok := s.byID[inst.ID]; ok {
			continue
		}
		if _, ok := s.byKey[key]; ok {
			continue
		}

		snap := inst.Clone()
		if snap.StatusInfo.Status == "" {
			snap.StatusInfo.Status = model.StatusUnknown
		}
		if over := len(snap.StatusHistory) - s.history; over > 0 {
			snap.StatusHistory = snap.StatusHistory[over:]
		}
		rec := &record{}
		rec.snap.Store(snap)
		s.byID[snap.ID] = rec
		s.byKey[key] = snap.ID
		restored++
	}
	return restored, nil
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	c := make(map[string]interface{}, len(details))
	for k, v := range details {
		c[k] = v
	}
	return c
}

var _ InstanceStore = (*MemoryInstanceStore)(nil)
