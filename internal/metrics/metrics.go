// Package metrics defines the Prometheus instruments shared by the
// audit services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus instruments for a service. Each binary
// touches only the subset that applies to it; unused instruments simply
// stay at zero.
type Metrics struct {
	// Consumption and analysis.
	MessagesConsumed   prometheus.Counter
	EventsProcessed    prometheus.Counter
	EventsInvalid      prometheus.Counter
	AlertsGenerated    *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram

	// Publishing.
	AlertsPublished prometheus.Counter
	PublishFailures prometheus.Counter

	// Persistence.
	AlertsPersisted *prometheus.CounterVec

	// Generation.
	EventsGenerated *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesConsumed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nats_messages_consumed_total",
			Help: "Total number of messages consumed from NATS",
		}),
		EventsProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audit_analysis_processed_total",
			Help: "Total number of audit events run through the rule engine",
		}),
		EventsInvalid: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audit_events_invalid_total",
			Help: "Total number of malformed messages dropped",
		}),
		AlertsGenerated: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_analysis_alerts_total",
			Help: "Total number of security alerts generated",
		}, []string{"rule_id", "severity"}),
		ProcessingDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_event_processing_duration_seconds",
			Help:    "Time spent processing a single audit event",
			Buckets: prometheus.DefBuckets,
		}),
		AlertsPublished: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audit_alerts_published_total",
			Help: "Total number of alerts successfully published to NATS",
		}),
		PublishFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audit_alerts_publish_failures_total",
			Help: "Total number of alert publish failures",
		}),
		AlertsPersisted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_alerts_persisted_total",
			Help: "Total number of alerts written to storage, by outcome",
		}, []string{"outcome"}),
		EventsGenerated: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_generated_total",
			Help: "Total number of synthetic audit events generated",
		}, []string{"event_type", "server_hostname", "action_result"}),
	}
}
