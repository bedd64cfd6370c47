package registration

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/middleware"
	"github.com/hewenyu/instance-admin/internal/registration/handler"
	"github.com/hewenyu/instance-admin/internal/registration/service"
)

// Server 表示实例注册API服务
type Server struct {
	e            *echo.Echo
	host         string
	port         int
	service      service.RegistrationService
	reapInterval time.Duration
	logger       config.Logger
	shutdownCtx  context.Context
	cancel       context.CancelFunc
}

// NewServer 创建一个新的实例注册API服务
//
// 注册接口不做认证，中间件顺序：Recover、RequestID、请求日志、限流。
func NewServer(svc service.RegistrationService, cfg *config.Config, logger config.Logger) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// 添加中间件
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.RateLimiter(cfg.Registration.RateLimit))

	// 注册路由
	handler.NewRegistrationHandler(svc).RegisterRoutes(e)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		e:            e,
		host:         cfg.Registration.ListenAddress,
		port:         cfg.Registration.Port,
		service:      svc,
		reapInterval: cfg.Registration.ReapInterval,
		logger:       logger,
		shutdownCtx:  ctx,
		cancel:       cancel,
	}
}

// Echo 返回底层的Echo实例
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start 启动服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("实例注册API服务启动", zap.String("address", addr))

	// 以非阻塞方式启动服务
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("实例注册API服务启动失败", zap.Error(err))
		}
	}()

	// 启动心跳过期回收任务
	go s.runReaper()

	return nil
}

// runReaper 定期移除心跳超时的实例
func (s *Server) runReaper() {
	if s.reapInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		case <-ticker.C:
			count, err := s.service.ReapExpired(s.shutdownCtx)
			if err != nil {
				s.logger.Error("回收过期实例失败", zap.Error(err))
			} else if count > 0 {
				s.logger.Info("回收了过期实例", zap.Int("count", count))
			}
		}
	}
}

// Shutdown 关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.e.Shutdown(ctx)
}
