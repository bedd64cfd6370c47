package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/instance-admin/internal/admin/service"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// InstanceHandler 处理实例管理相关的HTTP请求
type InstanceHandler struct {
	service service.AdminService
}

// NewInstanceHandler 创建一个新的实例管理处理器
func NewInstanceHandler(service service.AdminService) *InstanceHandler {
	return &InstanceHandler{
		service: service,
	}
}

// RegisterRoutes 注册API路由
func (h *InstanceHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	// 查询实例列表
	api.GET("/instances", h.listInstances)

	// 查询实例详情
	api.GET("/instances/:id", h.getInstance)

	// 注销实例
	api.DELETE("/instances/:id", h.deregisterInstance)

	// 立即探测
	api.POST("/instances/:id/probe", h.probeInstance)

	// 转发管理端点
	api.POST("/instances/:id/actuator/*", h.forwardActuator)
	api.DELETE("/instances/:id/actuator/*", h.forwardActuator)
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

// errorJSON 将业务错误转换为HTTP响应
func errorJSON(c echo.Context, err error) error {
	var code int
	switch model.CodeOf(err) {
	case model.ErrNotFound:
		code = http.StatusNotFound
	case model.ErrRegistrationValidation:
		code = http.StatusBadRequest
	case model.ErrStaleUpdate:
		code = http.StatusConflict
	case model.ErrProbeConnectionFailure, model.ErrProbeMalformedResponse:
		code = http.StatusBadGateway
	case model.ErrProbeTimeout:
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
	}
	return c.JSON(code, errorResponse(code, err.Error()))
}

// listInstances 处理查询实例列表请求
func (h *InstanceHandler) listInstances(c echo.Context) error {
	instances, err := h.service.ListInstances(c.Request().Context(), c.QueryParam("name"))
	if err != nil {
		return errorJSON(c, err)
	}

	// 构造响应数据
	data := map[string]interface{}{
		"instances": instances,
		"total":     len(instances),
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// getInstance 处理查询实例详情请求
func (h *InstanceHandler) getInstance(c echo.Context) error {
	inst, err := h.service.GetInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", inst))
}

// deregisterInstance 处理注销实例请求
func (h *InstanceHandler) deregisterInstance(c echo.Context) error {
	if err := h.service.Deregister(c.Request().Context(), c.Param("id")); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "实例注销成功", nil))
}

// probeInstance 处理立即探测请求
func (h *InstanceHandler) probeInstance(c echo.Context) error {
	inst, err := h.service.TriggerProbe(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "探测完成", inst))
}

// forwardActuator 将请求转发到实例的管理端点，原样返回实例的响应
func (h *InstanceHandler) forwardActuator(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "读取请求体失败: "+err.Error()))
	}

	resp, err := h.service.ForwardActuator(c.Request().Context(), c.Param("id"), c.Request().Method, c.Param("*"), body)
	if err != nil {
		return errorJSON(c, err)
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(resp.StatusCode, contentType, resp.Body)
}
