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
	"github.com/jojees/project-genesis/internal/generator"
	"github.com/jojees/project-genesis/internal/health"
	"github.com/jojees/project-genesis/internal/metrics"
)

const (
	serviceName     = "audit-event-generator"
	defaultHTTPPort = 5000
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

	logger.Info("starting audit event generator",
		zap.String("environment", cfg.Environment),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("event_subject", cfg.NATS.EventSubject),
		zap.Int("interval_seconds", cfg.Generator.IntervalSeconds))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	tracker := health.NewTracker(registry, health.ComponentBroker)

	manager := broker.NewManager(broker.Config{
		URL:         cfg.NATS.URL,
		ServiceName: cfg.ServiceName,
		Streams: []broker.StreamSpec{
			{Name: cfg.NATS.EventStream, Subjects: []string{cfg.NATS.EventSubject}},
		},
	}, logger, tracker)

	gen, err := generator.New(manager, cfg.NATS.EventSubject, cfg.Generator.Interval(), m, logger)
	if err != nil {
		logger.Fatal("failed to load event catalog", zap.Error(err))
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(ctx)
	}()
	go gen.Run(ctx)

	apiServer := api.NewAPIServer(api.Config{
		ServiceName: cfg.ServiceName,
		Health:      tracker,
		Gatherer:    registry,
		Events:      gen,
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

	logger.Info("audit event generator started")
	<-sigChan

	logger.Info("shutting down audit event generator")
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

	logger.Info("audit event generator stopped")
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
