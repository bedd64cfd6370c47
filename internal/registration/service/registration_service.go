package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/store/instance"
)

// RegistrationService 提供实例自注册相关的业务逻辑
type RegistrationService interface {
	// RegisterSelf 注册实例，相同注册标识的重复注册返回已有实例ID
	RegisterSelf(ctx context.Context, req *model.RegistrationRequest) (*model.RegistrationResponse, error)

	// Deregister 注销实例
	Deregister(ctx context.Context, instanceID string) error

	// Heartbeat 续约实例心跳
	Heartbeat(ctx context.Context, instanceID string) (*model.HeartbeatResponse, error)

	// ReapExpired 移除心跳超时的实例
	ReapExpired(ctx context.Context) (int, error)
}

// registrationService 实现 RegistrationService 接口
type registrationService struct {
	store          instance.InstanceStore
	validate       *validator.Validate
	heartbeatGrace time.Duration
	logger         config.Logger
	now            func() time.Time
}

// NewRegistrationService 创建一个新的实例注册服务，heartbeatGrace 为0时不按心跳回收
func NewRegistrationService(store instance.InstanceStore, heartbeatGrace time.Duration, logger config.Logger) RegistrationService {
	return &registrationService{
		store:          store,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		heartbeatGrace: heartbeatGrace,
		logger:         logger,
		now:            time.Now,
	}
}

// RegisterSelf 注册实例
func (s *registrationService) RegisterSelf(ctx context.Context, req *model.RegistrationRequest) (*model.RegistrationResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	inst, created, err := s.store.Register(ctx, req.Registration())
	if err != nil {
		return nil, fmt.Errorf("注册实例失败: %w", err)
	}

	if created {
		s.logger.Info("实例注册成功",
			zap.String("instance_id", inst.ID),
			zap.String("name", inst.Registration.Name),
			zap.String("health_url", inst.Registration.HealthURL))
	} else {
		s.logger.Debug("实例重复注册", zap.String("instance_id", inst.ID))
	}

	return &model.RegistrationResponse{
		InstanceID:   inst.ID,
		Created:      created,
		RegisteredAt: inst.RegisteredAt,
	}, nil
}

// validateRequest 校验注册参数
func (s *registrationService) validateRequest(req *model.RegistrationRequest) error {
	if req == nil {
		return model.NewValidationError("注册请求不能为空", nil)
	}
	req.Name = strings.TrimSpace(req.Name)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return model.NewValidationError("注册参数校验失败: "+strings.Join(msgs, ", "), err)
		}
		return model.NewValidationError("注册参数校验失败", err)
	}

	if req.HealthURL == "" && req.ManagementURL == "" {
		return model.NewValidationError("health_url 和 management_url 不能同时为空", nil)
	}

	for field, raw := range map[string]string{
		"base_url":       req.BaseURL,
		"management_url": req.ManagementURL,
		"health_url":     req.HealthURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return model.NewValidationError(fmt.Sprintf("%s 必须是http或https的绝对地址: %s", field, raw), err)
		}
	}
	return nil
}

// Deregister 注销实例
func (s *registrationService) Deregister(ctx context.Context, instanceID string) error {
	if err := s.store.Remove(ctx, instanceID, model.ReasonDeregistered); err != nil {
		return fmt.Errorf("注销实例失败: %w", err)
	}
	s.logger.Info("实例已注销", zap.String("instance_id", instanceID))
	return nil
}

// Heartbeat 续约实例心跳
func (s *registrationService) Heartbeat(ctx context.Context, instanceID string) (*model.HeartbeatResponse, error) {
	inst, err := s.store.Touch(ctx, instanceID, s.now())
	if err != nil {
		return nil, fmt.Errorf("更新实例心跳失败: %w", err)
	}

	return &model.HeartbeatResponse{
		InstanceID:    inst.ID,
		LastHeartbeat: inst.LastHeartbeat,
	}, nil
}

// ReapExpired 移除心跳超时的实例
func (s *registrationService) ReapExpired(ctx context.Context) (int, error) {
	if s.heartbeatGrace <= 0 {
		return 0, nil
	}

	instances, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取实例列表失败: %w", err)
	}

	deadline := s.now().Add(-s.heartbeatGrace)
	count := 0
	for _, inst := range instances {
		if !inst.LastHeartbeat.Before(deadline) {
			continue
		}
		// 判断与移除之间可能有心跳到达，在实例锁内重新检查
		removed, err := s.store.RemoveIf(ctx, inst.ID, model.ReasonLeaseExpired, func(cur *model.Instance) bool {
			return cur.LastHeartbeat.Before(deadline)
		})
		if err != nil {
			if model.IsNotFound(err) {
				continue
			}
			return count, fmt.Errorf("移除过期实例失败: %w", err)
		}
		if !removed {
			continue
		}
		s.logger.Info("实例心跳超时，已移除",
			zap.String("instance_id", inst.ID),
			zap.String("name", inst.Registration.Name),
			zap.Time("last_heartbeat", inst.LastHeartbeat))
		count++
	}
	return count, nil
}
