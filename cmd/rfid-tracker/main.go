package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "github.com/LucidAutoProgram/RFID-Program/internal/common/logger"
	"github.com/LucidAutoProgram/RFID-Program/internal/config"
	"github.com/LucidAutoProgram/RFID-Program/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.LogLevel, cfg.LogFormat, "rfid-tracker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting rfid-tracker service")

	// 创建服务
	svc, err := service.NewTrackerService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create tracker service", zap.Error(err))
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 启动服务
	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start tracker service", zap.Error(err))
	}

	// 等待信号
	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	cancel()

	// 停止服务
	svc.Stop()

	log.Info("Service stopped")
}
