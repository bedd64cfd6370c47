package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/webclient"
)

// ProbeResult 单次探测结果
type ProbeResult struct {
	Info model.StatusInfo
	// Err 探测失败原因：超时、连接失败或响应格式错误
	Err error
	// Reachable 实例是否给出了HTTP响应
	Reachable bool
	Latency   time.Duration
}

// healthBody 健康检查端点的响应体
type healthBody struct {
	Status     string                 `json:"status"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Components map[string]interface{} `json:"components,omitempty"`
}

// Prober 对实例的健康检查端点发起探测
type Prober struct {
	client  *webclient.Client
	timeout time.Duration
}

// NewProber 创建探测器
func NewProber(client *webclient.Client, timeout time.Duration) *Prober {
	return &Prober{client: client, timeout: timeout}
}

// Probe 探测实例并归类结果
func (p *Prober) Probe(ctx context.Context, inst *model.Instance) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.Exchange(ctx, inst, http.MethodGet, inst.Registration.HealthURL, nil)
	latency := time.Since(start)
	if err != nil {
		return offline(webclient.TransportError(ctx, "探测", inst.ID, err), latency)
	}

	result := ProbeResult{Reachable: true, Latency: latency}
	var body healthBody
	parseErr := json.Unmarshal(resp.Body, &body)
	status, known := model.ParseStatus(body.Status)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details := map[string]interface{}{
			"status": resp.StatusCode,
			"error":  http.StatusText(resp.StatusCode),
		}
		if parseErr == nil && known {
			details["body_status"] = string(status)
		}
		result.Info = model.StatusInfo{Status: model.StatusDown, Details: details}
		return result
	}

	if parseErr != nil || !known {
		msg := "健康检查响应缺少有效的status字段"
		if parseErr != nil {
			msg = "健康检查响应不是有效的JSON"
		}
		result.Info = model.StatusInfo{
			Status:  model.StatusDown,
			Details: map[string]interface{}{"status": resp.StatusCode, "error": msg},
		}
		result.Err = model.NewError(model.ErrProbeMalformedResponse, msg, parseErr)
		return result
	}

	details := body.Details
	if details == nil {
		details = body.Components
	}
	result.Info = model.StatusInfo{Status: status, Details: details}
	return result
}

func offline(err error, latency time.Duration) ProbeResult {
	return ProbeResult{
		Info: model.StatusInfo{
			Status:  model.StatusOffline,
			Details: map[string]interface{}{"error": err.Error()},
		},
		Err:     err,
		Latency: latency,
	}
}
