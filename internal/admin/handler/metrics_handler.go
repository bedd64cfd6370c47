package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/hewenyu/instance-admin/internal/admin/service"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// MetricsHandler 指标处理器
type MetricsHandler struct {
	service  service.AdminService
	registry metrics.Registry
}

// Metrics 系统指标
type Metrics struct {
	InstanceCount     int                               `json:"instance_count"`
	StatusCounts      map[model.StatusValue]int         `json:"status_counts"`
	ApplicationCount  int                               `json:"application_count"`
	Registry          map[string]map[string]interface{} `json:"registry"`
	ResourceUsage     map[string]interface{}            `json:"resource_usage"`
	LastCollectedTime time.Time                         `json:"last_collected_time"`
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(service service.AdminService, registry metrics.Registry) *MetricsHandler {
	return &MetricsHandler{
		service:  service,
		registry: registry,
	}
}

// RegisterRoutes 注册API路由
func (h *MetricsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/metrics", h.GetMetrics)
}

// GetMetrics 获取系统指标
func (h *MetricsHandler) GetMetrics(c echo.Context) error {
	apps, err := h.service.ListApplications(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}

	m := &Metrics{
		StatusCounts:      make(map[model.StatusValue]int),
		ApplicationCount:  len(apps),
		Registry:          h.registry.GetAll(),
		ResourceUsage:     getResourceUsage(),
		LastCollectedTime: time.Now(),
	}
	for _, app := range apps {
		m.InstanceCount += len(app.Instances)
		for status, n := range app.Counts {
			m.StatusCounts[status] += n
		}
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "success", m))
}

// getResourceUsage 采集运行时资源使用情况
func getResourceUsage() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]interface{}{
		"goroutines":   runtime.NumGoroutine(),
		"heap_alloc":   ms.HeapAlloc,
		"heap_objects": ms.HeapObjects,
		"num_gc":       ms.NumGC,
	}
}
