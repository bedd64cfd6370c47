package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// DefaultPrefix 实例在etcd中的默认前缀
const DefaultPrefix = "/instance-admin/instances/"

// KV 实例仓库依赖的键值操作
type KV interface {
	GetWithPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// InstanceRepository 将实例快照持久化到etcd
type InstanceRepository struct {
	kv     KV
	prefix string
}

// NewInstanceRepository 创建实例仓库
func NewInstanceRepository(kv KV, prefix string) *InstanceRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &InstanceRepository{kv: kv, prefix: prefix}
}

// Key 返回实例的存储键
func (r *InstanceRepository) Key(id string) string {
	return r.prefix + id
}

// IDFromKey 从存储键中解析实例ID
func (r *InstanceRepository) IDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, r.prefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, r.prefix)
	return id, id != ""
}

// Save 保存实例快照
func (r *InstanceRepository) Save(ctx context.Context, inst *model.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("序列化实例失败: %w", err)
	}
	if err := r.kv.Put(ctx, r.Key(inst.ID), data); err != nil {
		return fmt.Errorf("保存实例失败: %w", err)
	}
	return nil
}

// Delete 删除实例
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	if err := r.kv.Delete(ctx, r.Key(id)); err != nil {
		return fmt.Errorf("删除实例失败: %w", err)
	}
	return nil
}

// LoadAll 加载所有实例，无法解析的记录会被跳过并返回其键
func (r *InstanceRepository) LoadAll(ctx context.Context) ([]*model.Instance, []string, error) {
	kvs, err := r.kv.GetWithPrefix(ctx, r.prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("加载实例失败: %w", err)
	}

	instances := make([]*model.Instance, 0, len(kvs))
	var invalid []string
	for key, value := range kvs {
		var inst model.Instance
		if err := json.Unmarshal(value, &inst); err != nil || inst.ID == "" {
			invalid = append(invalid, key)
			continue
		}
		instances = append(instances, &inst)
	}
	model.SortInstances(instances)
	return instances, invalid, nil
}

// ListIDs 返回已持久化的实例ID
func (r *InstanceRepository) ListIDs(ctx context.Context) ([]string, error) {
	kvs, err := r.kv.GetWithPrefix(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("加载实例失败: %w", err)
	}
	ids := make([]string, 0, len(kvs))
	for key := range kvs {
		if id, ok := r.IDFromKey(key); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
