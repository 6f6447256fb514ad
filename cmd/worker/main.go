package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"datalake/config"
	"datalake/internal/mq"
	"datalake/internal/worker"
	"datalake/utils"

	"go.uber.org/zap"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	cfg := config.AppConfig

	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mq.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("connect rabbitmq failed", zap.Error(err))
	}
	defer client.Close()

	handler := worker.LogHandler{Log: logger.Named("events")}
	if err := worker.RunEventWorker(ctx, client, handler, worker.OptionsFromConfig(cfg), logger); err != nil {
		logger.Fatal("event worker stopped", zap.Error(err))
	}
}
