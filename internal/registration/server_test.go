package registration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// MockLogger 实现config.Logger接口，用于测试
type MockLogger struct{}

func (l *MockLogger) Debug(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) Info(msg string, fields ...zapcore.Field)  {}
func (l *MockLogger) Warn(msg string, fields ...zapcore.Field)  {}
func (l *MockLogger) Error(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) Fatal(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) With(fields ...zapcore.Field) config.Logger {
	return l
}
func (l *MockLogger) Sync() error { return nil }

// stubService 记录回收调用次数的注册服务
type stubService struct {
	reaps atomic.Int32
}

func (s *stubService) RegisterSelf(ctx context.Context, req *model.RegistrationRequest) (*model.RegistrationResponse, error) {
	return &model.RegistrationResponse{InstanceID: "id-1", Created: true, RegisteredAt: time.Now()}, nil
}

func (s *stubService) Deregister(ctx context.Context, instanceID string) error {
	return nil
}

func (s *stubService) Heartbeat(ctx context.Context, instanceID string) (*model.HeartbeatResponse, error) {
	return &model.HeartbeatResponse{InstanceID: instanceID, LastHeartbeat: time.Now()}, nil
}

func (s *stubService) ReapExpired(ctx context.Context) (int, error) {
	s.reaps.Add(1)
	return 0, nil
}

func newConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Registration.ListenAddress = "127.0.0.1"
	cfg.Registration.Port = 0
	return cfg
}

func TestServerRoutes(t *testing.T) {
	s := NewServer(&stubService{}, newConfig(), &MockLogger{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instances",
		strings.NewReader(`{"name":"orders","base_url":"http://orders:8080"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "id-1")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRateLimit(t *testing.T) {
	cfg := newConfig()
	cfg.Registration.RateLimit = 1
	s := NewServer(&stubService{}, cfg, &MockLogger{})

	serve := func() int {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/instances/id-1/heartbeat", nil)
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve())
	assert.Equal(t, http.StatusTooManyRequests, serve())
}

func TestServerRunsReaper(t *testing.T) {
	cfg := newConfig()
	cfg.Registration.ReapInterval = 10 * time.Millisecond
	svc := &stubService{}
	s := NewServer(svc, cfg, &MockLogger{})

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return svc.reaps.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
