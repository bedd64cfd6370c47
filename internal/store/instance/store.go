package instance

import (
	"context"
	"time"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// InstanceStore 定义实例存储接口
type InstanceStore interface {
	// Register 注册实例，相同注册标识的重复注册返回已有实例
	Register(ctx context.Context, reg model.Registration) (*model.Instance, bool, error)

	// Get 获取实例详情
	Get(ctx context.Context, id string) (*model.Instance, error)

	// List 获取所有实例的快照
	List(ctx context.Context) ([]*model.Instance, error)

	// UpdateStatus 写入探测结果，ts 早于最后检查时间时返回 StaleUpdate
	UpdateStatus(ctx context.Context, id string, info model.StatusInfo, ts time.Time) (*model.Instance, error)

	// Touch 续约心跳
	Touch(ctx context.Context, id string, ts time.Time) (*model.Instance, error)

	// Remove 移除实例并发布REMOVED事件
	Remove(ctx context.Context, id string, reason string) error

	// RemoveIf 在实例锁内检查 cond，满足时移除实例并返回true
	RemoveIf(ctx context.Context, id string, reason string, cond func(*model.Instance) bool) (bool, error)

	// Restore 启动时从持久化层批量恢复实例，不发布事件
	Restore(ctx context.Context, instances []*model.Instance) (int, error)
}

// Publisher 事件发布者
type Publisher interface {
	Publish(event model.InstanceEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.InstanceEvent) {}
