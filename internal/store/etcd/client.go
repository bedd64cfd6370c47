package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/instance-admin/internal/config"
)

// Client 封装了etcd客户端
type Client struct {
	client *clientv3.Client
	cfg    config.EtcdConfig
}

// NewClient 创建一个新的etcd客户端
func NewClient(cfg config.EtcdConfig) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	return &Client{
		client: client,
		cfg:    cfg,
	}, nil
}

// Close 关闭etcd客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping 检查etcd集群状态
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if _, err := c.client.Status(ctx, c.cfg.Endpoints[0]); err != nil {
		return fmt.Errorf("etcd健康检查失败: %w", err)
	}
	return nil
}

// Get 获取键值，键不存在时返回nil
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd获取键值失败 [%s]: %w", key, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	return resp.Kvs[0].Value, nil
}

// GetWithPrefix 获取指定前缀的所有键值
func (c *Client) GetWithPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd获取前缀键值失败 [%s]: %w", prefix, err)
	}

	result := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = kv.Value
	}

	return result, nil
}

// Put 设置键值
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if _, err := c.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("etcd设置键值失败 [%s]: %w", key, err)
	}

	return nil
}

// Delete 删除键值
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if _, err := c.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("etcd删除键值失败 [%s]: %w", key, err)
	}

	return nil
}

// WatchDeletes 监听前缀下的删除事件，直到ctx取消
func (c *Client) WatchDeletes(ctx context.Context, prefix string, fn func(key string)) {
	for resp := range c.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithFilterPut()) {
		if resp.Canceled {
			return
		}
		for _, ev := range resp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				fn(string(ev.Kv.Key))
			}
		}
	}
}
