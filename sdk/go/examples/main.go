package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	sdk "github.com/hewenyu/instance-admin/sdk/go"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	config := &sdk.Config{
		ServerAddr:        "localhost:8081",
		Name:              "example-service",
		BaseURL:           "http://127.0.0.1:8000",
		ManagementURL:     "http://127.0.0.1:8000/actuator",
		Metadata:          map[string]string{"version": "1.0.0"},
		HeartbeatInterval: 30 * time.Second,
		Timeout:           5 * time.Second,
		RetryCount:        3,
		Logger:            logger,
	}

	client, err := sdk.NewClient(config)
	if err != nil {
		logger.Fatal("创建SDK客户端失败", zap.Error(err))
	}

	ctx := context.Background()
	if err := client.Register(ctx); err != nil {
		logger.Fatal("实例注册失败", zap.Error(err))
	}
	logger.Info("实例注册成功", zap.String("instance_id", client.GetInstanceID()))

	client.StartHeartbeat()
	logger.Info("心跳任务已启动", zap.Duration("interval", config.HeartbeatInterval))

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭...")
	if err := client.Close(ctx); err != nil {
		logger.Error("关闭SDK客户端失败", zap.Error(err))
	}
}
