package model

import "time"

// EventType 实例事件类型
type EventType string

const (
	// EventRegistered 新实例注册
	EventRegistered EventType = "REGISTERED"
	// EventRegistrationUpdated 重复注册且元数据发生变化
	EventRegistrationUpdated EventType = "REGISTRATION_UPDATED"
	// EventStatusChanged 状态发生变化
	EventStatusChanged EventType = "STATUS_CHANGED"
	// EventRemoved 实例被移除（注销、租约过期或探测失败回收）
	EventRemoved EventType = "REMOVED"
)

// 实例移除原因
const (
	ReasonDeregistered = "deregistered"
	ReasonLeaseExpired = "lease-expired"
	ReasonUnreachable  = "unreachable"
)

// InstanceEvent 状态事件总线上传递的事件
type InstanceEvent struct {
	Type           EventType   `json:"type"`
	InstanceID     string      `json:"instance_id"`
	Version        int64       `json:"version"` // 同一实例内单调递增
	Timestamp      time.Time   `json:"timestamp"`
	Status         StatusValue `json:"status"`
	PreviousStatus StatusValue `json:"previous_status,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Instance       *Instance   `json:"instance,omitempty"`
}

// Name 返回事件关联实例的服务名
func (e InstanceEvent) Name() string {
	if e.Instance == nil {
		return ""
	}
	return e.Instance.Registration.Name
}
