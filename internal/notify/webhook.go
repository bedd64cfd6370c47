package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// WebhookNotifier 以JSON POST方式发送事件
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建Webhook通知器
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify 实现Notifier接口
func (n *WebhookNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建Webhook请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送Webhook失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Webhook返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}
