package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/metrics"
	"github.com/jojees/project-genesis/internal/model"
)

// Evaluator runs an audit event through the detection rules.
type Evaluator interface {
	Evaluate(ctx context.Context, event *model.AuditEvent, raw []byte) (*model.SecurityAlert, error)
}

// AlertPublisher forwards a generated alert to the alert stream.
type AlertPublisher interface {
	Publish(ctx context.Context, alert *model.SecurityAlert) error
}

// AnalysisDispatcher consumes audit events, evaluates them and publishes
// any resulting alerts. Decisions follow the error taxonomy: malformed
// payloads are dropped, transient evaluation or publish failures are
// requeued.
type AnalysisDispatcher struct {
	engine    Evaluator
	publisher AlertPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewAnalysisDispatcher(engine Evaluator, publisher AlertPublisher, m *metrics.Metrics, logger *zap.Logger) *AnalysisDispatcher {
	return &AnalysisDispatcher{
		engine:    engine,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Handle processes one audit event delivery.
func (d *AnalysisDispatcher) Handle(ctx context.Context, payload []byte) Decision {
	start := time.Now()
	defer func() {
		d.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}()
	d.metrics.MessagesConsumed.Inc()

	event, err := model.DecodeEvent(payload)
	if err != nil {
		d.metrics.EventsInvalid.Inc()
		d.logger.Error("dropping undecodable audit event",
			zap.Error(err),
			zap.Int("payload_bytes", len(payload)))
		return NackDrop
	}

	alert, err := d.engine.Evaluate(ctx, event, payload)
	if err != nil {
		d.logger.Error("rule evaluation failed, requeueing event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return NackRequeue
	}

	if alert != nil {
		if err := d.publisher.Publish(ctx, alert); err != nil {
			if errs.IsMalformed(err) {
				d.logger.Error("dropping event with unpublishable alert",
					zap.String("event_id", event.EventID),
					zap.Error(err))
				return NackDrop
			}
			d.logger.Error("alert publish failed, requeueing event",
				zap.String("event_id", event.EventID),
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
			return NackRequeue
		}
	}

	d.metrics.EventsProcessed.Inc()
	return Ack
}
