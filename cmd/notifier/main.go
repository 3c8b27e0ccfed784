package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jojees/project-genesis/internal/api"
	"github.com/jojees/project-genesis/internal/broker"
	"github.com/jojees/project-genesis/internal/config"
	"github.com/jojees/project-genesis/internal/dispatch"
	"github.com/jojees/project-genesis/internal/health"
	"github.com/jojees/project-genesis/internal/metrics"
	"github.com/jojees/project-genesis/internal/store"
)

const (
	serviceName         = "notification-service"
	defaultHTTPPort     = 8000
	healthCheckInterval = 30 * time.Second
)

func main() {
	cfg, err := config.Load(serviceName, defaultHTTPPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting notification service",
		zap.String("environment", cfg.Environment),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("alert_subject", cfg.NATS.AlertSubject),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.String("postgres_db", cfg.Postgres.DB))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	tracker := health.NewTracker(registry,
		health.ComponentBroker, health.ComponentDatabase, health.ComponentConsumer)

	pgStore, err := store.NewPostgresStore(cfg.Postgres.DSN(), logger, tracker)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()

	if err := pgStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure alerts schema", zap.Error(err))
	}
	go health.Watch(ctx, healthCheckInterval, logger, health.ComponentDatabase, pgStore.Health)

	dispatcher, err := dispatch.NewPersistenceDispatcher(pgStore, m, logger)
	if err != nil {
		logger.Fatal("failed to build persistence dispatcher", zap.Error(err))
	}

	manager := broker.NewManager(broker.Config{
		URL:         cfg.NATS.URL,
		ServiceName: cfg.ServiceName,
		Streams: []broker.StreamSpec{
			{Name: cfg.NATS.AlertStream, Subjects: []string{cfg.NATS.AlertSubject}},
		},
		Consume: &broker.ConsumeSpec{
			Subject: cfg.NATS.AlertSubject,
			Durable: cfg.ServiceName,
			Handler: dispatcher.Handle,
		},
	}, logger, tracker)

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(ctx)
	}()

	apiServer := api.NewAPIServer(api.Config{
		ServiceName: cfg.ServiceName,
		Health:      tracker,
		Gatherer:    registry,
		Alerts:      pgStore,
	}, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: apiServer,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("notification service started")
	<-sigChan

	logger.Info("shutting down notification service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	select {
	case <-managerDone:
	case <-shutdownCtx.Done():
		logger.Warn("broker session did not close in time")
	}

	logger.Info("notification service stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
