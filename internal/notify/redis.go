package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// RedisNotifier 通过Redis PUBLISH发送事件
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier 创建Redis通知器
func NewRedisNotifier(addr, password string, db int, channel string) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisNotifier{client: client, channel: channel}
}

// Ping 检查Redis连接
func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("连接Redis失败: %w", err)
	}
	return nil
}

// Notify 实现Notifier接口
func (n *RedisNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("发布Redis消息失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
