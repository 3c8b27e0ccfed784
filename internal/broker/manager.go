// Package broker owns the NATS JetStream session: connecting, declaring
// streams, running the durable consumer and publishing. Reconnection is
// handled here with a fixed retry interval rather than by the client
// library, so the session state the health endpoint reports is always the
// manager's own.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/dispatch"
	"github.com/jojees/project-genesis/internal/health"
)

const (
	retryInterval  = 5 * time.Second
	connectTimeout = 5 * time.Second
)

// ErrNotConnected is returned by Publish while the session is down.
var ErrNotConnected = errors.New("not connected to nats")

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateStreamOpen
	stateDeclared
	stateConsuming
	stateClosing
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateStreamOpen:
		return "stream_open"
	case stateDeclared:
		return "declared"
	case stateConsuming:
		return "consuming"
	case stateClosing:
		return "closing"
	}
	return "unknown"
}

// StreamSpec names a stream the session must ensure exists before use.
type StreamSpec struct {
	Name     string
	Subjects []string
}

// ConsumeSpec describes the durable subscription a service runs. A nil
// ConsumeSpec makes the session publish-only.
type ConsumeSpec struct {
	Subject string
	Durable string
	Handler dispatch.Handler
}

// Config carries the session parameters for one service.
type Config struct {
	URL         string
	ServiceName string
	Streams     []StreamSpec
	Consume     *ConsumeSpec
}

// Manager runs the broker session lifecycle. Run blocks until its context
// is cancelled, reconnecting with a fixed delay whenever the session drops.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	health *health.Tracker
	retry  time.Duration

	mu    sync.RWMutex
	nc    *nats.Conn
	js    nats.JetStreamContext
	state state
}

func NewManager(cfg Config, logger *zap.Logger, tracker *health.Tracker) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		health: tracker,
		retry:  retryInterval,
		state:  stateDisconnected,
	}
}

// Run drives the session until ctx is cancelled. Each failed or dropped
// session tears down completely and reconnects from scratch after the
// retry interval.
func (m *Manager) Run(ctx context.Context) {
	for {
		if err := m.session(ctx); err != nil {
			m.logger.Error("broker session ended",
				zap.Error(err),
				zap.Duration("retry_in", m.retry))
		}
		m.teardown()

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retry):
		}
	}
}

// session establishes one connection, declares streams, starts the
// consumer if configured, and blocks until the connection closes or ctx is
// cancelled. A nil return means a clean shutdown.
func (m *Manager) session(ctx context.Context) error {
	m.setState(stateConnecting)

	closed := make(chan struct{})
	nc, err := nats.Connect(m.cfg.URL,
		nats.Name(m.cfg.ServiceName),
		nats.Timeout(connectTimeout),
		nats.NoReconnect(),
		nats.ClosedHandler(func(_ *nats.Conn) { close(closed) }),
	)
	if err != nil {
		m.health.Set(health.ComponentBroker, false)
		return fmt.Errorf("connect to %s: %w", m.cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		m.health.Set(health.ComponentBroker, false)
		return fmt.Errorf("open jetstream context: %w", err)
	}
	m.setConn(nc, js)
	m.setState(stateStreamOpen)

	if err := m.declareStreams(js); err != nil {
		nc.Close()
		m.health.Set(health.ComponentBroker, false)
		return err
	}
	m.setState(stateDeclared)
	m.health.Set(health.ComponentBroker, true)
	m.logger.Info("broker session established",
		zap.String("url", m.cfg.URL))

	if m.cfg.Consume != nil {
		if err := m.subscribe(ctx, js, m.cfg.Consume); err != nil {
			nc.Close()
			return err
		}
		m.setState(stateConsuming)
		m.health.Set(health.ComponentConsumer, true)
	}

	select {
	case <-ctx.Done():
		m.setState(stateClosing)
		return nil
	case <-closed:
		return errors.New("connection closed by server")
	}
}

// declareStreams ensures every configured stream exists with the configured
// subjects. A stream that survived a previous deployment is updated in
// place so subject changes take effect.
func (m *Manager) declareStreams(js nats.JetStreamContext) error {
	for _, spec := range m.cfg.Streams {
		cfg := &nats.StreamConfig{
			Name:      spec.Name,
			Subjects:  spec.Subjects,
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		}

		_, err := js.StreamInfo(spec.Name)
		if err == nil {
			if _, err := js.UpdateStream(cfg); err != nil {
				return fmt.Errorf("update stream %s: %w", spec.Name, err)
			}
			m.logger.Info("stream updated",
				zap.String("stream", spec.Name),
				zap.Strings("subjects", spec.Subjects))
			continue
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("inspect stream %s: %w", spec.Name, err)
		}
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", spec.Name, err)
		}
		m.logger.Info("stream created",
			zap.String("stream", spec.Name),
			zap.Strings("subjects", spec.Subjects))
	}
	return nil
}

// Publish sends one payload through the current session.
func (m *Manager) Publish(ctx context.Context, subject string, payload []byte) error {
	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()
	if js == nil {
		return ErrNotConnected
	}
	if _, err := js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return err
	}
	return nil
}

// teardown closes the consumer and connection. The durable consumer is
// left intact on the server so unacked deliveries survive restarts.
func (m *Manager) teardown() {
	m.mu.Lock()
	nc := m.nc
	m.nc = nil
	m.js = nil
	m.state = stateDisconnected
	m.mu.Unlock()

	if nc != nil && !nc.IsClosed() {
		nc.Close()
	}
	m.health.Set(health.ComponentBroker, false)
	if m.cfg.Consume != nil {
		m.health.Set(health.ComponentConsumer, false)
	}
}

func (m *Manager) setConn(nc *nats.Conn, js nats.JetStreamContext) {
	m.mu.Lock()
	m.nc = nc
	m.js = js
	m.mu.Unlock()
}

func (m *Manager) setState(s state) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debug("broker state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
}
