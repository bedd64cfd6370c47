package service

import (
	"context"

	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/webclient"
)

// AdminService 定义管理API的服务层接口
type AdminService interface {
	// ListInstances 查询实例列表，name为空时返回全部实例
	ListInstances(ctx context.Context, name string) ([]*model.Instance, error)

	// GetInstance 根据ID获取实例详情
	GetInstance(ctx context.Context, id string) (*model.Instance, error)

	// ListApplications 按服务名聚合实例
	ListApplications(ctx context.Context) ([]*model.Application, error)

	// GetApplication 获取单个服务的聚合视图
	GetApplication(ctx context.Context, name string) (*model.Application, error)

	// Deregister 注销实例
	Deregister(ctx context.Context, id string) error

	// TriggerProbe 立即探测实例
	TriggerProbe(ctx context.Context, id string) (*model.Instance, error)

	// ForwardActuator 将管理端点请求转发给实例
	ForwardActuator(ctx context.Context, id, method, endpoint string, body []byte) (*webclient.Response, error)
}

// Prober 按需探测实例
type Prober interface {
	ProbeNow(ctx context.Context, id string) (*model.Instance, error)
}
