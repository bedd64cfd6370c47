package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RegisterRequest 实例注册请求
type RegisterRequest struct {
	Name          string            `json:"name"`
	BaseURL       string            `json:"base_url,omitempty"`
	ManagementURL string            `json:"management_url,omitempty"`
	HealthURL     string            `json:"health_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RegisterResponse 注册响应数据
type RegisterResponse struct {
	InstanceID   string    `json:"instance_id"`
	Created      bool      `json:"created"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Register 注册实例，网络错误和5xx响应按RetryCount重试
//
// 服务端按注册地址去重，重复调用返回同一个实例ID。
func (c *Client) Register(ctx context.Context) error {
	c.mu.Lock()
	if c.isRegistered {
		id := c.instanceID
		c.mu.Unlock()
		return fmt.Errorf("实例已注册，实例ID: %s", id)
	}
	c.mu.Unlock()

	req := RegisterRequest{
		Name:          c.config.Name,
		BaseURL:       c.config.BaseURL,
		ManagementURL: c.config.ManagementURL,
		HealthURL:     c.config.HealthURL,
		Metadata:      c.config.Metadata,
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond

	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/instances", req)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn("注册失败，准备重试", zap.Error(err))
		}
		return resp, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(c.config.RetryCount)))
	if err != nil {
		return fmt.Errorf("实例注册失败: %w", err)
	}

	var registerResp RegisterResponse
	if err := json.Unmarshal(resp.Data, &registerResp); err != nil {
		return fmt.Errorf("解析注册响应失败: %w", err)
	}

	c.mu.Lock()
	c.instanceID = registerResp.InstanceID
	c.isRegistered = true
	c.mu.Unlock()

	c.logger.Info("实例注册成功",
		zap.String("instance_id", registerResp.InstanceID),
		zap.Bool("created", registerResp.Created))
	return nil
}

// Deregister 注销实例
func (c *Client) Deregister(ctx context.Context) error {
	c.mu.Lock()
	id, registered := c.instanceID, c.isRegistered
	c.mu.Unlock()
	if !registered {
		return fmt.Errorf("实例尚未注册")
	}

	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/instances/%s", id), nil)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound) {
		return fmt.Errorf("实例注销失败: %w", err)
	}

	c.mu.Lock()
	c.isRegistered = false
	c.instanceID = ""
	c.mu.Unlock()

	return nil
}

// GetInstanceID 获取实例ID
func (c *Client) GetInstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

// IsRegistered 检查实例是否已注册
func (c *Client) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRegistered
}
