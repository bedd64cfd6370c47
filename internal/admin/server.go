package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/admin/handler"
	"github.com/hewenyu/instance-admin/internal/admin/service"
	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/eventbus"
	"github.com/hewenyu/instance-admin/internal/middleware"
)

// Server 表示管理API服务
type Server struct {
	e      *echo.Echo
	host   string
	port   int
	events *handler.EventsHandler
	logger config.Logger
}

// NewServer 创建一个新的管理API服务
//
// 中间件顺序固定为：Recover、RequestID、请求日志、安全响应头、CORS、Basic认证。
// /health 与 /assets/ 下的资源不需要认证。
func NewServer(svc service.AdminService, bus *eventbus.Bus, registry metrics.Registry, cfg *config.Config, logger config.Logger) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// 添加中间件
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Secure())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BasicAuth(cfg.Admin.Username, cfg.Admin.Password, "/health"))

	// 注册路由
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":    "ok",
			"service":   "instance-admin-management-api",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	handler.NewInstanceHandler(svc).RegisterRoutes(e)
	handler.NewApplicationHandler(svc).RegisterRoutes(e)
	handler.NewMetricsHandler(svc, registry).RegisterRoutes(e)
	events := handler.NewEventsHandler(bus, logger)
	events.RegisterRoutes(e)

	return &Server{
		e:      e,
		host:   cfg.Admin.ListenAddress,
		port:   cfg.Admin.Port,
		events: events,
		logger: logger,
	}
}

// Echo 返回底层的Echo实例
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start 启动服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("管理API服务启动", zap.String("address", addr))

	// 以非阻塞方式启动服务
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("管理API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Close()
	return s.e.Shutdown(ctx)
}
