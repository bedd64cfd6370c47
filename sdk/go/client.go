package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config SDK客户端配置
type Config struct {
	// 注册服务器地址
	ServerAddr string `json:"server_addr"`
	// 应用名称
	Name string `json:"name"`
	// 实例基础地址
	BaseURL string `json:"base_url"`
	// 管理端点地址
	ManagementURL string `json:"management_url"`
	// 健康检查地址，为空时由服务端根据管理端点推导
	HealthURL string `json:"health_url"`
	// 元数据
	Metadata map[string]string `json:"metadata"`
	// 心跳间隔
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	// 操作超时时间
	Timeout time.Duration `json:"timeout"`
	// 注册重试次数
	RetryCount int `json:"retry_count"`
	// 是否使用HTTPS
	Secure bool `json:"secure"`
	// API Token（认证使用）
	ApiToken string `json:"api_token"`
	// 日志，为空时不输出
	Logger *zap.Logger `json:"-"`
}

// Client SDK客户端
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger

	mu           sync.Mutex
	instanceID   string
	isRegistered bool
	stopChan     chan struct{}
	stopped      chan struct{}
}

// Response API响应结构
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d)", e.Message, e.StatusCode)
}

// NewClient 创建SDK客户端
func NewClient(config *Config) (*Client, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("服务器地址不能为空")
	}
	if config.Name == "" {
		return nil, fmt.Errorf("应用名称不能为空")
	}
	if config.HealthURL == "" && config.ManagementURL == "" {
		return nil, fmt.Errorf("健康检查地址和管理端点地址不能同时为空")
	}

	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RetryCount == 0 {
		config.RetryCount = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.ServerAddr, path)
}

// 发送HTTP请求
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	url := c.buildURL(path)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.ApiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.ApiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiResp, &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	return &apiResp, nil
}
