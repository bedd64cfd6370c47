package webclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// recordingLogger 记录日志消息
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	debugs []string
}

func (l *recordingLogger) Debug(msg string, fields ...zapcore.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, msg)
}
func (l *recordingLogger) Info(msg string, fields ...zapcore.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}
func (l *recordingLogger) Warn(msg string, fields ...zapcore.Field)  {}
func (l *recordingLogger) Error(msg string, fields ...zapcore.Field) {}
func (l *recordingLogger) Fatal(msg string, fields ...zapcore.Field) {}
func (l *recordingLogger) With(fields ...zapcore.Field) config.Logger {
	return l
}
func (l *recordingLogger) Sync() error { return nil }

func TestClient_ExchangeAppliesFiltersInOrder(t *testing.T) {
	var gotHeader, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-CUSTOM")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var order []string
	trace := func(name string) ExchangeFilter {
		return ExchangeFilterFunc(func(ctx context.Context, req *Request, next ExchangeFunc) (*Response, error) {
			order = append(order, name+":before")
			resp, err := next(ctx, req)
			order = append(order, name+":after")
			return resp, err
		})
	}

	client := NewClient(nil,
		trace("a"),
		HeadersFilter(map[string]string{"X-CUSTOM": "My Custom Value"}),
		trace("b"),
	)
	inst := &model.Instance{ID: "abc"}
	resp, err := client.Exchange(context.Background(), inst, http.MethodPost, server.URL+"/actuator/refresh", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "My Custom Value", gotHeader)
	assert.Equal(t, `{}`, gotBody)
	assert.Equal(t, []string{"a:before", "b:before", "b:after", "a:after"}, order)
}

func TestAuditLogFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := &recordingLogger{}
	client := NewClient(nil, AuditLogFilter(logger))
	inst := &model.Instance{ID: "abc"}

	_, err := client.Exchange(context.Background(), inst, http.MethodDelete, server.URL+"/loggers", nil)
	require.NoError(t, err)
	_, err = client.Exchange(context.Background(), inst, http.MethodGet, server.URL+"/health", nil)
	require.NoError(t, err)

	require.NotEmpty(t, logger.infos)
	assert.Equal(t, fmt.Sprintf("DELETE for abc on %s/loggers", server.URL), logger.infos[0])
	for _, msg := range logger.infos {
		assert.False(t, strings.HasPrefix(msg, "GET"), "GET请求不应以Info级别记录")
	}
	assert.Contains(t, logger.debugs, fmt.Sprintf("GET for abc on %s/health", server.URL))
}

func TestClient_ExchangeTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(nil)
	_, err := client.Exchange(context.Background(), &model.Instance{ID: "x"}, http.MethodGet, url, nil)
	require.Error(t, err)

	classified := TransportError(context.Background(), "探测", "x", err)
	assert.Equal(t, model.ErrProbeConnectionFailure, model.CodeOf(classified))
	assert.Contains(t, classified.Error(), "探测连接失败: x")
}

func TestTransportError_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(&http.Client{Timeout: 20 * time.Millisecond})
	_, err := client.Exchange(context.Background(), &model.Instance{ID: "x"}, http.MethodGet, server.URL, nil)
	require.Error(t, err)

	classified := TransportError(context.Background(), "转发请求", "x", err)
	assert.Equal(t, model.ErrProbeTimeout, model.CodeOf(classified))
	assert.Contains(t, classified.Error(), "转发请求超时: x")
}
