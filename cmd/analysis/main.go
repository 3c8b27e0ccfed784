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
	"github.com/jojees/project-genesis/internal/ratelimit"
	"github.com/jojees/project-genesis/internal/rules"
)

const (
	serviceName         = "audit-log-analysis"
	defaultHTTPPort     = 5001
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

	logger.Info("starting audit log analysis service",
		zap.String("environment", cfg.Environment),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("event_subject", cfg.NATS.EventSubject),
		zap.Int("failed_login_window_seconds", cfg.Analysis.FailedLoginWindowSeconds),
		zap.Int("failed_login_threshold", cfg.Analysis.FailedLoginThreshold),
		zap.Strings("sensitive_files", cfg.Analysis.SensitiveFiles))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	tracker := health.NewTracker(registry,
		health.ComponentBroker, health.ComponentCache, health.ComponentConsumer)

	counter, err := ratelimit.NewStore(cfg.Redis.Addr(), cfg.Analysis.Window(), logger, tracker)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer counter.Close()
	go health.Watch(ctx, healthCheckInterval, logger, health.ComponentCache, counter.Ping)

	engine := rules.NewEngine(counter, cfg.Analysis, cfg.ServiceName, m, logger)

	// The dispatcher publishes through the same broker session it consumes
	// from, so the consume handler binds to it lazily.
	var dispatcher *dispatch.AnalysisDispatcher
	manager := broker.NewManager(broker.Config{
		URL:         cfg.NATS.URL,
		ServiceName: cfg.ServiceName,
		Streams: []broker.StreamSpec{
			{Name: cfg.NATS.EventStream, Subjects: []string{cfg.NATS.EventSubject}},
			{Name: cfg.NATS.AlertStream, Subjects: []string{cfg.NATS.AlertSubject}},
		},
		Consume: &broker.ConsumeSpec{
			Subject: cfg.NATS.EventSubject,
			Durable: cfg.ServiceName,
			Handler: func(ctx context.Context, payload []byte) dispatch.Decision {
				return dispatcher.Handle(ctx, payload)
			},
		},
	}, logger, tracker)

	publisher := broker.NewAlertPublisher(manager, cfg.NATS.AlertSubject, m, logger)
	dispatcher = dispatch.NewAnalysisDispatcher(engine, publisher, m, logger)

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(ctx)
	}()

	apiServer := api.NewAPIServer(api.Config{
		ServiceName: cfg.ServiceName,
		Health:      tracker,
		Gatherer:    registry,
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

	logger.Info("audit log analysis service started")
	<-sigChan

	logger.Info("shutting down audit log analysis service")
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

	logger.Info("audit log analysis service stopped")
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
