// Package health tracks per-component connectivity for readiness probes.
// Each service registers the components it depends on; the broker, cache
// and store layers flip their flag as connections come and go, and the
// /healthz handler reads the aggregate.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Component names used across the services.
const (
	ComponentBroker   = "nats"
	ComponentCache    = "redis"
	ComponentDatabase = "postgres"
	ComponentConsumer = "consumer"
)

// Tracker holds the connection status of a fixed set of components.
// Updates also drive a Prometheus gauge so dashboards see the same
// truth the probe reports.
type Tracker struct {
	mu     sync.RWMutex
	status map[string]bool

	gauge *prometheus.GaugeVec
}

// NewTracker returns a Tracker for the given components, all initially
// down. Components not listed here can still be set later; they join the
// aggregate from that point on.
func NewTracker(reg prometheus.Registerer, components ...string) *Tracker {
	t := &Tracker{
		status: make(map[string]bool, len(components)),
		gauge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "component_connection_status",
			Help: "Connection status per component (1=connected, 0=disconnected).",
		}, []string{"component"}),
	}
	for _, c := range components {
		t.status[c] = false
		t.gauge.WithLabelValues(c).Set(0)
	}
	return t
}

// Set records the connection status of a component.
func (t *Tracker) Set(component string, up bool) {
	t.mu.Lock()
	t.status[component] = up
	t.mu.Unlock()

	v := 0.0
	if up {
		v = 1
	}
	t.gauge.WithLabelValues(component).Set(v)
}

// Healthy reports whether every tracked component is up.
func (t *Tracker) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, up := range t.status {
		if !up {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the current component statuses.
func (t *Tracker) Snapshot() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.status))
	for c, up := range t.status {
		out[c] = up
	}
	return out
}

// checkTimeout bounds one dependency check.
const checkTimeout = 5 * time.Second

// Check verifies one dependency. Implementations record the outcome on
// their tracker themselves.
type Check func(ctx context.Context) error

// Watch re-runs check every interval until ctx is cancelled, so the
// tracked status stays fresh even when no messages flow.
func Watch(ctx context.Context, interval time.Duration, logger *zap.Logger, component string, check Check) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			if err := check(checkCtx); err != nil {
				logger.Warn("dependency check failed",
					zap.String("component", component),
					zap.Error(err))
			}
			cancel()
		}
	}
}
