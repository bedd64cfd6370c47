package webclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
)

// HeadersFilter 为每个出站请求附加固定请求头
func HeadersFilter(headers map[string]string) ExchangeFilter {
	return ExchangeFilterFunc(func(ctx context.Context, req *Request, next ExchangeFunc) (*Response, error) {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return next(ctx, req)
	})
}

// AuditLogFilter 记录出站请求，POST和DELETE以Info级别记录
func AuditLogFilter(logger config.Logger) ExchangeFilter {
	return ExchangeFilterFunc(func(ctx context.Context, req *Request, next ExchangeFunc) (*Response, error) {
		id := ""
		if req.Instance != nil {
			id = req.Instance.ID
		}
		audited := req.Method == http.MethodPost || req.Method == http.MethodDelete
		logf := logger.Debug
		if audited {
			logf = logger.Info
		}

		logf(fmt.Sprintf("%s for %s on %s", req.Method, id, req.URL))

		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("instance_id", id),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logf("出站请求失败", append(fields, zap.Error(err))...)
			return nil, err
		}
		logf("出站请求完成", append(fields, zap.Int("status", resp.StatusCode))...)
		return resp, nil
	})
}
