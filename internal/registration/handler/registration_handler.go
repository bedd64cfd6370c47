package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/registration/service"
)

// RegistrationHandler 处理实例注册相关的HTTP请求
type RegistrationHandler struct {
	service service.RegistrationService
}

// NewRegistrationHandler 创建一个新的实例注册处理器
func NewRegistrationHandler(service service.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{
		service: service,
	}
}

// RegisterRoutes 注册API路由
func (h *RegistrationHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)

	api := e.Group("/api/v1")

	// 实例注册
	api.POST("/instances", h.registerInstance)

	// 实例注销
	api.DELETE("/instances/:id", h.deregisterInstance)

	// 实例心跳
	api.PUT("/instances/:id/heartbeat", h.heartbeat)
}

// 返回成功响应
func successResponse(code int, message string, data interface{}) *model.ApiResponse {
	return &model.ApiResponse{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// 返回错误响应
func errorResponse(code int, message string) *model.ApiResponse {
	return &model.ApiResponse{
		Code:    code,
		Message: message,
	}
}

// statusCode 将业务错误映射为HTTP状态码
func statusCode(err error) int {
	switch model.CodeOf(err) {
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrRegistrationValidation:
		return http.StatusBadRequest
	case model.ErrStaleUpdate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *RegistrationHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "instance-admin-registration-api",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// registerInstance 处理实例注册请求
func (h *RegistrationHandler) registerInstance(c echo.Context) error {
	// 解析请求参数
	req := new(model.RegistrationRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}

	// 调用服务层注册实例
	resp, err := h.service.RegisterSelf(c.Request().Context(), req)
	if err != nil {
		code := statusCode(err)
		return c.JSON(code, errorResponse(code, err.Error()))
	}

	if resp.Created {
		return c.JSON(http.StatusCreated, successResponse(http.StatusCreated, "实例注册成功", resp))
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "实例已注册", resp))
}

// deregisterInstance 处理实例注销请求
func (h *RegistrationHandler) deregisterInstance(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "实例ID不能为空"))
	}

	if err := h.service.Deregister(c.Request().Context(), id); err != nil {
		code := statusCode(err)
		return c.JSON(code, errorResponse(code, err.Error()))
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "实例注销成功", nil))
}

// heartbeat 处理实例心跳请求
func (h *RegistrationHandler) heartbeat(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "实例ID不能为空"))
	}

	resp, err := h.service.Heartbeat(c.Request().Context(), id)
	if err != nil {
		code := statusCode(err)
		return c.JSON(code, errorResponse(code, err.Error()))
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "心跳更新成功", resp))
}
