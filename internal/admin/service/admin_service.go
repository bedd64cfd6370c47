package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/store/instance"
	"github.com/hewenyu/instance-admin/internal/webclient"
)

// DefaultActuatorTimeout 转发管理端点请求的默认超时
const DefaultActuatorTimeout = 10 * time.Second

// AdminServiceImpl 实现AdminService接口
type AdminServiceImpl struct {
	store           instance.InstanceStore
	prober          Prober
	client          *webclient.Client
	actuatorTimeout time.Duration
}

// NewAdminService 创建一个新的AdminService实例，actuatorTimeout 不大于0时使用默认值
func NewAdminService(store instance.InstanceStore, prober Prober, client *webclient.Client, actuatorTimeout time.Duration) AdminService {
	if actuatorTimeout <= 0 {
		actuatorTimeout = DefaultActuatorTimeout
	}
	return &AdminServiceImpl{
		store:           store,
		prober:          prober,
		client:          client,
		actuatorTimeout: actuatorTimeout,
	}
}

// ListInstances 查询实例列表
func (s *AdminServiceImpl) ListInstances(ctx context.Context, name string) ([]*model.Instance, error) {
	instances, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取实例列表失败: %w", err)
	}
	if name == "" {
		return instances, nil
	}

	filtered := make([]*model.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Registration.Name == name {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

// GetInstance 根据ID获取实例详情
func (s *AdminServiceImpl) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取实例详情失败: %w", err)
	}
	return inst, nil
}

// ListApplications 按服务名聚合实例
func (s *AdminServiceImpl) ListApplications(ctx context.Context) ([]*model.Application, error) {
	instances, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取实例列表失败: %w", err)
	}
	return model.GroupApplications(instances), nil
}

// GetApplication 获取单个服务的聚合视图
func (s *AdminServiceImpl) GetApplication(ctx context.Context, name string) (*model.Application, error) {
	instances, err := s.ListInstances(ctx, name)
	if err != nil {
		return nil, err
	}
	apps := model.GroupApplications(instances)
	if len(apps) == 0 {
		return nil, model.NewError(model.ErrNotFound, "服务不存在: "+name, nil)
	}
	return apps[0], nil
}

// Deregister 注销实例
func (s *AdminServiceImpl) Deregister(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, id, model.ReasonDeregistered); err != nil {
		return fmt.Errorf("注销实例失败: %w", err)
	}
	return nil
}

// TriggerProbe 立即探测实例
func (s *AdminServiceImpl) TriggerProbe(ctx context.Context, id string) (*model.Instance, error) {
	inst, err := s.prober.ProbeNow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("探测实例失败: %w", err)
	}
	return inst, nil
}

// ForwardActuator 将管理端点请求转发给实例
func (s *AdminServiceImpl) ForwardActuator(ctx context.Context, id, method, endpoint string, body []byte) (*webclient.Response, error) {
	endpoint = strings.Trim(endpoint, "/")
	if endpoint == "" || strings.Contains(endpoint, "..") {
		return nil, model.NewValidationError("无效的管理端点: "+endpoint, nil)
	}

	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取实例详情失败: %w", err)
	}

	base := managementBase(inst.Registration)
	if base == "" {
		return nil, model.NewValidationError("实例未提供管理地址: "+id, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.actuatorTimeout)
	defer cancel()

	resp, err := s.client.Exchange(ctx, inst, method, base+"/"+endpoint, body)
	if err != nil {
		return nil, webclient.TransportError(ctx, "转发请求", id, err)
	}
	return resp, nil
}

// managementBase 返回管理端点的根地址，未配置时由健康检查地址推导
func managementBase(reg model.Registration) string {
	if reg.ManagementURL != "" {
		return strings.TrimSuffix(reg.ManagementURL, "/")
	}
	if strings.HasSuffix(reg.HealthURL, "/health") {
		return strings.TrimSuffix(reg.HealthURL, "/health")
	}
	return ""
}
