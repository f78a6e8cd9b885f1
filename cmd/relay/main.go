package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/internal/config"
	"github.com/satriahrh/mianshi/internal/metrics"
	"github.com/satriahrh/mianshi/internal/relay"
)

func main() {
	bootstrap, _ := zap.NewProduction()
	config.LoadDotEnv(bootstrap, ".env.local", ".env")

	cfg := config.RelayConfigFromEnv()
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		bootstrap.Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid relay configuration", zap.Error(err))
	}

	m := metrics.NewMetrics()
	server := relay.NewServer(relay.Options{
		Upstream: relay.UpstreamConfig{
			URL:    cfg.UpstreamURL,
			APIKey: cfg.UpstreamAPIKey,
		},
		ExposeMetrics: cfg.MetricsEnabled,
	}, m, logger)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the relay", zap.Error(err))
		}
	}()

	logger.Info("Relay started",
		zap.String("port", cfg.Port),
		zap.Bool("metrics", cfg.MetricsEnabled))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Relay is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Relay forced to shutdown", zap.Error(err))
	}

	logger.Info("Relay exited")
}
