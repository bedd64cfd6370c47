package model

import "time"

// RegistrationRequest 表示实例自注册请求
type RegistrationRequest struct {
	Name          string            `json:"name" validate:"required,max=255"`
	BaseURL       string            `json:"base_url,omitempty" validate:"omitempty,url"`
	ManagementURL string            `json:"management_url,omitempty" validate:"omitempty,url"`
	HealthURL     string            `json:"health_url,omitempty" validate:"omitempty,url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Registration 转换为注册元数据
func (r *RegistrationRequest) Registration() Registration {
	return Registration{
		Name:          r.Name,
		BaseURL:       r.BaseURL,
		ManagementURL: r.ManagementURL,
		HealthURL:     r.HealthURL,
		Metadata:      r.Metadata,
	}.Normalize()
}

// RegistrationResponse 表示注册响应
type RegistrationResponse struct {
	InstanceID   string    `json:"instance_id"`
	Created      bool      `json:"created"`
	RegisteredAt time.Time `json:"registered_at"`
}

// HeartbeatResponse 表示心跳响应
type HeartbeatResponse struct {
	InstanceID    string    `json:"instance_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ApiResponse 表示通用API响应
type ApiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
