package webclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// MaxBodySize 响应体读取上限
const MaxBodySize = 1 << 20

// Request 发往实例的出站请求
type Request struct {
	Instance *model.Instance
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
}

// Response 实例返回的响应，Body 已完整读取
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ExchangeFunc 执行一次请求交换
type ExchangeFunc func(ctx context.Context, req *Request) (*Response, error)

// ExchangeFilter 在出站请求前后执行的过滤器
type ExchangeFilter interface {
	Filter(ctx context.Context, req *Request, next ExchangeFunc) (*Response, error)
}

// ExchangeFilterFunc 函数形式的过滤器
type ExchangeFilterFunc func(ctx context.Context, req *Request, next ExchangeFunc) (*Response, error)

// Filter 实现ExchangeFilter接口
func (f ExchangeFilterFunc) Filter(ctx context.Context, req *Request, next ExchangeFunc) (*Response, error) {
	return f(ctx, req, next)
}

// Client 访问被监控实例的HTTP客户端
type Client struct {
	httpClient *http.Client
	filters    []ExchangeFilter
}

// NewClient 创建客户端，过滤器按传入顺序执行
func NewClient(httpClient *http.Client, filters ...ExchangeFilter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		filters:    filters,
	}
}

// Exchange 经过滤器链向实例发送请求
func (c *Client) Exchange(ctx context.Context, inst *model.Instance, method, url string, body []byte) (*Response, error) {
	req := &Request{
		Instance: inst,
		Method:   method,
		URL:      url,
		Header:   make(http.Header),
		Body:     body,
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	next := c.do
	for i := len(c.filters) - 1; i >= 0; i-- {
		filter, inner := c.filters[i], next
		next = func(ctx context.Context, req *Request) (*Response, error) {
			return filter.Filter(ctx, req, inner)
		}
	}
	return next(ctx, req)
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// TransportError 将出站请求的传输错误归类为超时或连接失败
//
// action 用于错误信息，例如 "探测"、"转发请求"。
func TransportError(ctx context.Context, action, target string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return model.NewError(model.ErrProbeTimeout, action+"超时: "+target, err)
	}
	return model.NewError(model.ErrProbeConnectionFailure, action+"连接失败: "+target, err)
}
