package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/app"
	"github.com/hewenyu/instance-admin/internal/config"
)

// shutdownTimeout 优雅关闭的最长等待时间
const shutdownTimeout = 10 * time.Second

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLoggerWithLevel(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Instance Admin Starting...",
		zap.String("version", "0.1.0"),
		zap.Int("admin_port", cfg.Admin.Port),
		zap.Int("registration_port", cfg.Registration.Port),
		zap.Duration("poll_interval", cfg.Poller.Interval))

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("初始化失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		logger.Error("启动失败", zap.Error(err))
		shutdown(a, logger)
		os.Exit(1)
	}

	// 等待信号以优雅关闭
	<-ctx.Done()
	logger.Info("接收到关闭信号，正在优雅关闭...")
	shutdown(a, logger)
}

func shutdown(a *app.App, logger config.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		logger.Error("关闭过程中出现错误", zap.Error(err))
	}
}
