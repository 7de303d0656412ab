package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"posledger/internal/config"
	"posledger/internal/events"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		logrus.Fatalf("invalid logging configuration: %v", err)
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR must be set for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, mux := newWorker(cfg, logger)
	if err := srv.Start(mux); err != nil {
		logger.Fatalf("start worker: %v", err)
	}
	logger.WithField("queue", cfg.LowStockQueue).Info("low-stock worker started")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info("worker stopped")
}

func newWorker(cfg config.Config, logger *logrus.Logger) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{cfg.LowStockQueue: 1},
		Logger:      logger,
	})

	mux := asynq.NewServeMux()
	mux.Handle(events.TaskTypeLowStock, events.NewLowStockHandler(events.NewLogSink(logger), logger))
	return srv, mux
}
