package etcd

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/eventbus"
	"github.com/hewenyu/instance-admin/internal/store/instance"
)

// ErrNotRestored 尚未成功从etcd恢复，拒绝全量同步
var ErrNotRestored = errors.New("尚未从etcd恢复实例，跳过全量同步")

// DeleteWatcher 监听持久化层的外部删除
type DeleteWatcher interface {
	WatchDeletes(ctx context.Context, prefix string, fn func(key string))
}

// Mirror 将内存存储的变化写入etcd，并在启动时从etcd恢复
//
// 事件处理和周期同步在同一个协程中执行，同一实例的写入顺序与事件顺序一致。
type Mirror struct {
	repo         *InstanceRepository
	store        instance.InstanceStore
	bus          *eventbus.Bus
	syncInterval time.Duration
	watcher      DeleteWatcher
	logger       config.Logger
	restored     atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// MirrorOption Mirror配置项
type MirrorOption func(*Mirror)

// WithSyncInterval 设置全量同步间隔，0 表示不做周期同步
func WithSyncInterval(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		m.syncInterval = d
	}
}

// WithDeleteWatcher 外部删除etcd中的实例时同步注销内存中的实例
func WithDeleteWatcher(w DeleteWatcher) MirrorOption {
	return func(m *Mirror) {
		m.watcher = w
	}
}

// NewMirror 创建etcd镜像
func NewMirror(repo *InstanceRepository, store instance.InstanceStore, bus *eventbus.Bus, logger config.Logger, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		repo:   repo,
		store:  store,
		bus:    bus,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore 从etcd加载实例到内存存储
func (m *Mirror) Restore(ctx context.Context) (int, error) {
	instances, invalid, err := m.repo.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, key := range invalid {
		m.logger.Warn("跳过无法解析的实例记录", zap.String("key", key))
	}

	n, err := m.store.Restore(ctx, instances)
	if err != nil {
		return 0, err
	}
	m.restored.Store(true)
	m.logger.Info("从etcd恢复实例", zap.Int("restored", n), zap.Int("loaded", len(instances)))
	return n, nil
}

// Restored 返回是否已成功从etcd恢复
func (m *Mirror) Restored() bool {
	return m.restored.Load()
}

// Start 开始镜像
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	sub := m.bus.Subscribe()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer sub.Close()
		m.loop(ctx, sub)
	}()

	if m.watcher != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watcher.WatchDeletes(ctx, m.repo.prefix, func(key string) {
				m.onExternalDelete(ctx, key)
			})
		}()
	}
}

// Stop 停止镜像
func (m *Mirror) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Mirror) loop(ctx context.Context, sub *eventbus.Subscription) {
	var tick <-chan time.Time
	if m.syncInterval > 0 {
		ticker := time.NewTicker(m.syncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.apply(ctx, ev)
		case <-tick:
			if err := m.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("etcd全量同步失败", zap.Error(err))
			}
		}
	}
}

// apply 将单个事件写入etcd
func (m *Mirror) apply(ctx context.Context, ev model.InstanceEvent) {
	var err error
	switch {
	case ev.Type == model.EventRemoved:
		err = m.repo.Delete(ctx, ev.InstanceID)
	case ev.Instance != nil:
		err = m.repo.Save(ctx, ev.Instance)
	default:
		return
	}
	if err != nil {
		m.logger.Warn("写入etcd失败",
			zap.String("type", string(ev.Type)),
			zap.String("instance_id", ev.InstanceID),
			zap.Error(err))
	}
}

// Sync 用内存中的全部实例覆盖etcd，并删除已不存在的实例
//
// 未成功 Restore 之前内存存储不代表完整状态，此时返回 ErrNotRestored 且不修改etcd。
func (m *Mirror) Sync(ctx context.Context) error {
	if !m.restored.Load() {
		return ErrNotRestored
	}
	instances, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	live := make(map[string]struct{}, len(instances))
	var errs []error
	for _, inst := range instances {
		live[inst.ID] = struct{}{}
		if err := m.repo.Save(ctx, inst); err != nil {
			errs = append(errs, err)
		}
	}

	ids, err := m.repo.ListIDs(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := m.repo.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mirror) onExternalDelete(ctx context.Context, key string) {
	id, ok := m.repo.IDFromKey(key)
	if !ok {
		return
	}
	err := m.store.Remove(ctx, id, model.ReasonDeregistered)
	switch {
	case err == nil:
		m.logger.Info("etcd中的实例被删除，已注销", zap.String("instance_id", id))
	case model.IsNotFound(err):
	default:
		m.logger.Warn("注销实例失败", zap.String("instance_id", id), zap.Error(err))
	}
}
