package broker

import (
	"context"

	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/metrics"
	"github.com/jojees/project-genesis/internal/model"
)

// AlertPublisher sends generated alerts to the alert stream and keeps the
// publish counters.
type AlertPublisher struct {
	manager *Manager
	subject string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewAlertPublisher(m *Manager, subject string, met *metrics.Metrics, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{
		manager: m,
		subject: subject,
		metrics: met,
		logger:  logger,
	}
}

// Publish encodes and sends one alert. Failures while the session is down
// are transient; the caller requeues the originating event and the alert
// is regenerated on redelivery.
func (p *AlertPublisher) Publish(ctx context.Context, alert *model.SecurityAlert) error {
	payload, err := alert.Encode()
	if err != nil {
		p.metrics.PublishFailures.Inc()
		return errs.Malformed("encode alert", err)
	}

	if err := p.manager.Publish(ctx, p.subject, payload); err != nil {
		p.metrics.PublishFailures.Inc()
		return errs.Transient("publish alert", err)
	}

	p.metrics.AlertsPublished.Inc()
	p.logger.Info("alert published",
		zap.String("alert_id", alert.AlertID),
		zap.String("alert_name", alert.AlertName),
		zap.String("subject", p.subject))
	return nil
}
