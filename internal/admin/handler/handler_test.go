package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/instance-admin/internal/admin/service"
	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/eventbus"
	"github.com/hewenyu/instance-admin/internal/store/instance"
	"github.com/hewenyu/instance-admin/internal/webclient"
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

type stubProber struct {
	store instance.InstanceStore
}

func (p *stubProber) ProbeNow(ctx context.Context, id string) (*model.Instance, error) {
	return p.store.UpdateStatus(ctx, id, model.StatusInfo{Status: model.StatusUp}, time.Now())
}

type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	e      *echo.Echo
	store  *instance.MemoryInstanceStore
	bus    *eventbus.Bus
	events *EventsHandler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	store := instance.NewMemoryInstanceStore(bus)
	svc := service.NewAdminService(store, &stubProber{store: store}, webclient.NewClient(nil), 0)

	e := echo.New()
	NewInstanceHandler(svc).RegisterRoutes(e)
	NewApplicationHandler(svc).RegisterRoutes(e)
	NewMetricsHandler(svc, metrics.NewRegistry()).RegisterRoutes(e)
	events := NewEventsHandler(bus, &MockLogger{})
	events.RegisterRoutes(e)
	t.Cleanup(events.Close)

	return &testEnv{e: e, store: store, bus: bus, events: events}
}

func (env *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func (env *testEnv) register(t *testing.T, name, base string) *model.Instance {
	t.Helper()
	inst, _, err := env.store.Register(context.Background(), model.Registration{
		Name:          name,
		BaseURL:       base,
		ManagementURL: base + "/actuator",
	})
	require.NoError(t, err)
	return inst
}

func TestListAndGetInstances(t *testing.T) {
	env := newEnv(t)
	a := env.register(t, "orders", "http://orders:8080")
	env.register(t, "billing", "http://billing:8080")

	rec, resp := env.do(t, http.MethodGet, "/api/v1/instances")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Instances []*model.Instance `json:"instances"`
		Total     int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 2, list.Total)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/instances?name=orders")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Instances, 1)
	assert.Equal(t, a.ID, list.Instances[0].ID)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/instances/"+a.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got model.Instance
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "orders", got.Registration.Name)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/instances/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDeregisterAndProbeInstance(t *testing.T) {
	env := newEnv(t)
	a := env.register(t, "orders", "http://orders:8080")

	rec, resp := env.do(t, http.MethodPost, "/api/v1/instances/"+a.ID+"/probe")
	assert.Equal(t, http.StatusOK, rec.Code)
	var probed model.Instance
	require.NoError(t, json.Unmarshal(resp.Data, &probed))
	assert.Equal(t, model.StatusUp, probed.Status())

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/instances/"+a.ID)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/instances/"+a.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForwardActuatorHandler(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(r.Method + " " + r.URL.Path))
	}))
	defer target.Close()

	env := newEnv(t)
	a := env.register(t, "orders", target.URL)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/instances/"+a.ID+"/actuator/loggers/ROOT")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "POST /actuator/loggers/ROOT", rec.Body.String())

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/instances/"+a.ID+"/actuator/caches")
	assert.Equal(t, "DELETE /actuator/caches", rec.Body.String())
}

func TestForwardActuatorTimeout(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer target.Close()

	store := instance.NewMemoryInstanceStore(nil)
	svc := service.NewAdminService(store, &stubProber{store: store}, webclient.NewClient(nil), 30*time.Millisecond)
	e := echo.New()
	NewInstanceHandler(svc).RegisterRoutes(e)

	inst, _, err := store.Register(context.Background(), model.Registration{
		Name:          "orders",
		BaseURL:       target.URL,
		ManagementURL: target.URL + "/actuator",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instances/"+inst.ID+"/actuator/refresh", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestApplicationsAndMetrics(t *testing.T) {
	env := newEnv(t)
	a := env.register(t, "orders", "http://orders-1:8080")
	env.register(t, "orders", "http://orders-2:8080")
	_, err := env.store.UpdateStatus(context.Background(), a.ID, model.StatusInfo{Status: model.StatusOffline}, time.Now())
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/applications")
	assert.Equal(t, http.StatusOK, rec.Code)
	var apps struct {
		Applications []*model.Application `json:"applications"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &apps))
	require.Len(t, apps.Applications, 1)
	assert.Equal(t, model.StatusOffline, apps.Applications[0].Status)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/applications/orders")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/applications/none")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	var m Metrics
	require.NoError(t, json.Unmarshal(resp.Data, &m))
	assert.Equal(t, 2, m.InstanceCount)
	assert.Equal(t, 1, m.StatusCounts[model.StatusOffline])
	assert.Equal(t, 1, m.StatusCounts[model.StatusUnknown])
	assert.Contains(t, m.ResourceUsage, "goroutines")
}

func TestEventsStream(t *testing.T) {
	env := newEnv(t)
	server := httptest.NewServer(env.e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events?name=orders"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return env.bus.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	env.register(t, "billing", "http://billing:8080")
	orders := env.register(t, "orders", "http://orders:8080")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev model.InstanceEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, model.EventRegistered, ev.Type)
	assert.Equal(t, orders.ID, ev.InstanceID)

	// 关闭处理器后连接被关闭
	env.events.Close()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool {
		return env.bus.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}
