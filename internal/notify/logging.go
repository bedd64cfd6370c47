package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// LoggingNotifier 将事件写入日志
type LoggingNotifier struct {
	logger config.Logger
}

// NewLoggingNotifier 创建日志通知器
func NewLoggingNotifier(logger config.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// Notify 实现Notifier接口
func (n *LoggingNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.String("instance_id", event.InstanceID),
		zap.String("name", event.Name()),
		zap.String("status", string(event.Status)),
		zap.Int64("version", event.Version),
	}
	if event.PreviousStatus != "" {
		fields = append(fields, zap.String("previous_status", string(event.PreviousStatus)))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if event.Status == model.StatusUp || event.Type == model.EventRegistered {
		n.logger.Info("实例事件", fields...)
	} else {
		n.logger.Warn("实例事件", fields...)
	}
	return nil
}
