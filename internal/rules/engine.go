// Package rules implements the detection rules applied to inbound audit
// events. Rules are pure apart from the failure counter: given the same
// event and counter state they produce the same verdict.
package rules

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/config"
	"github.com/jojees/project-genesis/internal/metrics"
	"github.com/jojees/project-genesis/internal/model"
)

// FailureCounter records a login failure and reports how many failures the
// subject has inside the sliding window, the new one included.
type FailureCounter interface {
	RecordFailure(ctx context.Context, userID, hostname, eventID string, now time.Time) (int64, error)
}

// Engine evaluates every detection rule against incoming events.
type Engine struct {
	counter     FailureCounter
	windowSecs  int
	threshold   int
	sensitive   []string
	serviceName string
	metrics     *metrics.Metrics
	logger      *zap.Logger

	now func() time.Time
}

// NewEngine creates an Engine with the configured rule parameters.
func NewEngine(counter FailureCounter, cfg config.Analysis, serviceName string, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		counter:     counter,
		windowSecs:  cfg.FailedLoginWindowSeconds,
		threshold:   cfg.FailedLoginThreshold,
		sensitive:   cfg.SensitiveFiles,
		serviceName: serviceName,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate runs the rule matching the event's type. A nil alert with a nil
// error means the event was processed and no rule fired; that is a normal
// outcome, distinct from an error, which means the event could not be
// evaluated and should be redelivered.
func (e *Engine) Evaluate(ctx context.Context, ev *model.AuditEvent, raw []byte) (*model.SecurityAlert, error) {
	switch {
	case ev.EventType == model.EventTypeUserLogin && ev.ActionResult == model.ActionResultFailure:
		return e.analyzeFailedLogins(ctx, ev, raw)
	case ev.EventType == model.EventTypeFileModified && ev.ActionResult == model.ActionResultModified:
		return e.analyzeSensitiveFile(ev, raw), nil
	}
	return nil, nil
}

// newAlert assembles the fields shared by every rule. The alert id is
// generated here, exactly once per detection; redeliveries of the same
// event produce a new detection and a new id, while redeliveries of the
// same alert keep theirs.
func (e *Engine) newAlert(ev *model.AuditEvent, raw []byte, name, description string, rule model.AnalysisRule, resource model.ImpactedResource, action string, metadata map[string]interface{}) *model.SecurityAlert {
	clientIP := ev.ClientIP
	if clientIP == "" {
		clientIP = "N/A"
	}

	return &model.SecurityAlert{
		AlertID:           uuid.NewString(),
		CorrelationID:     ev.EventID,
		Timestamp:         e.now().UTC().Format(time.RFC3339),
		AlertName:         name,
		AlertType:         model.AlertTypeSecurity,
		Severity:          model.SeverityCritical,
		Description:       description,
		SourceServiceName: e.serviceName,
		AnalysisRule:      rule,
		TriggeredBy: model.TriggeredBy{
			ActorType: "user",
			ActorID:   ev.UserID,
			ClientIP:  clientIP,
		},
		ImpactedResource: resource,
		ActionObserved:   action,
		Metadata:         metadata,
		RawEventData:     json.RawMessage(raw),
	}
}
