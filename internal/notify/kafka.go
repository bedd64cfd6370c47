package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// MessageWriter kafka消息写入接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier 将事件写入Kafka主题，以实例ID作为消息键
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier 创建Kafka通知器
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	})
}

// NewKafkaNotifierWithWriter 使用指定的写入器创建Kafka通知器
func NewKafkaNotifierWithWriter(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Notify 实现Notifier接口
func (n *KafkaNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.InstanceID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("写入Kafka消息失败: %w", err)
	}
	return nil
}

// Close 关闭写入器
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
