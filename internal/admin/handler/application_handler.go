package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/instance-admin/internal/admin/service"
)

// ApplicationHandler 处理服务聚合视图相关的HTTP请求
type ApplicationHandler struct {
	service service.AdminService
}

// NewApplicationHandler 创建一个新的服务聚合处理器
func NewApplicationHandler(service service.AdminService) *ApplicationHandler {
	return &ApplicationHandler{
		service: service,
	}
}

// RegisterRoutes 注册API路由
func (h *ApplicationHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	api.GET("/applications", h.listApplications)
	api.GET("/applications/:name", h.getApplication)
}

// listApplications 处理查询服务列表请求
func (h *ApplicationHandler) listApplications(c echo.Context) error {
	apps, err := h.service.ListApplications(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}

	data := map[string]interface{}{
		"applications": apps,
		"total":        len(apps),
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// getApplication 处理查询单个服务请求
func (h *ApplicationHandler) getApplication(c echo.Context) error {
	app, err := h.service.GetApplication(c.Request().Context(), c.Param("name"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", app))
}
