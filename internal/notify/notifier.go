package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// Notifier 接收实例事件并发送通知
type Notifier interface {
	Notify(ctx context.Context, event model.InstanceEvent) error
}

// encodeEvent 将事件编码为对外发送的JSON
func encodeEvent(event model.InstanceEvent) ([]byte, error) {
	return json.Marshal(event)
}

// closeNotifier 关闭持有外部连接的通知器
func closeNotifier(n Notifier) error {
	if c, ok := n.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CompositeNotifier 将事件分发给多个通知器
type CompositeNotifier struct {
	delegates []Notifier
}

// NewCompositeNotifier 创建组合通知器
func NewCompositeNotifier(delegates ...Notifier) *CompositeNotifier {
	return &CompositeNotifier{delegates: delegates}
}

// Notify 依次调用所有通知器，单个失败不影响其他通知器
func (c *CompositeNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	var errs []error
	for _, d := range c.delegates {
		if err := d.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len 返回通知器数量
func (c *CompositeNotifier) Len() int {
	return len(c.delegates)
}

// Close 关闭所有通知器
func (c *CompositeNotifier) Close() error {
	var errs []error
	for _, d := range c.delegates {
		if err := closeNotifier(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
