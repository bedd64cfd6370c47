package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// RequestLogger 使用zap记录每个HTTP请求
func RequestLogger(logger config.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				logger.Warn("HTTP请求失败", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Debug("HTTP请求", fields...)
			return nil
		},
	})
}

// RateLimiter 按客户端IP限流，limit 为每秒请求数，不大于0时不限流
func RateLimiter(limit float64) echo.MiddlewareFunc {
	if limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(limit))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, &model.ApiResponse{
				Code:    http.StatusTooManyRequests,
				Message: "请求过于频繁",
			})
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, &model.ApiResponse{
				Code:    http.StatusForbidden,
				Message: "无法识别客户端",
			})
		},
	})
}

// BasicAuth 校验管理接口的用户名和密码，username 为空时不校验
//
// publicPaths 中的路径及 /assets/ 前缀下的静态资源无需认证。
func BasicAuth(username, password string, publicPaths ...string) echo.MiddlewareFunc {
	if username == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}

	return echomw.BasicAuthWithConfig(echomw.BasicAuthConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			if _, ok := public[path]; ok {
				return true
			}
			return strings.HasPrefix(path, "/assets/")
		},
		Validator: func(u, p string, c echo.Context) (bool, error) {
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
			return userOK && passOK, nil
		},
		Realm: "instance-admin",
	})
}
