package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SendHeartbeat 发送心跳，实例已被服务端移除时自动重新注册
func (c *Client) SendHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	id, registered := c.instanceID, c.isRegistered
	c.mu.Unlock()
	if !registered {
		return fmt.Errorf("实例尚未注册")
	}

	_, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/instances/%s/heartbeat", id), nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		c.logger.Warn("实例已被移除，重新注册", zap.String("instance_id", id))
		c.mu.Lock()
		c.isRegistered = false
		c.instanceID = ""
		c.mu.Unlock()
		return c.Register(ctx)
	}
	if err != nil {
		return fmt.Errorf("发送心跳失败: %w", err)
	}

	return nil
}

// StartHeartbeat 开始心跳任务
func (c *Client) StartHeartbeat() {
	c.StopHeartbeat()

	c.mu.Lock()
	stop := make(chan struct{})
	stopped := make(chan struct{})
	c.stopChan, c.stopped = stop, stopped
	c.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(c.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
				if err := c.SendHeartbeat(ctx); err != nil {
					c.logger.Warn("心跳发送失败，将在下一个周期重试", zap.Error(err))
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// StopHeartbeat 停止心跳任务，可重复调用
func (c *Client) StopHeartbeat() {
	c.mu.Lock()
	stop, stopped := c.stopChan, c.stopped
	c.stopChan, c.stopped = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

// Close 停止心跳并注销实例
func (c *Client) Close(ctx context.Context) error {
	c.StopHeartbeat()

	if c.IsRegistered() {
		if err := c.Deregister(ctx); err != nil {
			return fmt.Errorf("注销实例失败: %w", err)
		}
	}

	return nil
}
