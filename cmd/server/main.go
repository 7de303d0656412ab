package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"posledger/internal/config"
	"posledger/internal/httpapi"
	"posledger/internal/service"
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		logrus.Fatalf("invalid logging configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := wire(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer deps.close(logger)

	tax, err := defaultTax(cfg)
	if err != nil {
		logger.Fatalf("invalid tax configuration: %v", err)
	}

	svc := service.New(deps.repo, service.Options{
		Locker:        deps.locker,
		Cache:         deps.cache,
		CacheTTL:      cfg.ProductCacheTTL,
		Sink:          deps.sink,
		Logger:        logger,
		ReceiptPrefix: cfg.ReceiptPrefix,
	})
	api := httpapi.New(svc, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		DefaultTax:         tax,
		Logger:             logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.Address()).Info("posledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		deps.close(logger)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
