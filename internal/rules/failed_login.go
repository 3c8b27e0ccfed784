package rules

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/model"
)

const (
	FailedLoginRuleID   = "ANLY-SEC-001"
	FailedLoginRuleName = "failed_login_burst"

	failedLoginAlertName = "Multiple Failed Login Attempts"
	failedLoginRuleDesc  = "Detects bursts of failed login attempts for a single user and host within a sliding window."
)

// analyzeFailedLogins records the failure in the sliding window and fires
// once the count reaches the threshold. A counter error aborts evaluation;
// the event must be redelivered rather than counted as zero attempts.
func (e *Engine) analyzeFailedLogins(ctx context.Context, ev *model.AuditEvent, raw []byte) (*model.SecurityAlert, error) {
	count, err := e.counter.RecordFailure(ctx, ev.UserID, ev.ServerHostname, ev.EventID, e.now())
	if err != nil {
		e.logger.Error("failed login analysis aborted",
			zap.String("user_id", ev.UserID),
			zap.String("server_hostname", ev.ServerHostname),
			zap.Error(err))
		return nil, err
	}

	e.logger.Debug("failed login recorded",
		zap.String("user_id", ev.UserID),
		zap.String("server_hostname", ev.ServerHostname),
		zap.Int64("attempts_in_window", count))

	if count < int64(e.threshold) {
		return nil, nil
	}

	description := fmt.Sprintf("%d or more failed login attempts for user '%s' on '%s' within %d seconds",
		e.threshold, ev.UserID, ev.ServerHostname, e.windowSecs)

	alert := e.newAlert(ev, raw,
		failedLoginAlertName,
		description,
		model.AnalysisRule{
			RuleID:      FailedLoginRuleID,
			RuleName:    FailedLoginRuleName,
			Description: failedLoginRuleDesc,
		},
		model.ImpactedResource{
			ResourceType:   "host",
			ResourceID:     ev.ServerHostname,
			ServerHostname: ev.ServerHostname,
		},
		model.ActionLoginFailed,
		map[string]interface{}{
			"failed_attempts": count,
			"window_seconds":  e.windowSecs,
			"threshold":       e.threshold,
		},
	)

	e.metrics.AlertsGenerated.WithLabelValues(FailedLoginRuleID, model.SeverityCritical).Inc()
	e.logger.Warn("multiple failed login attempts detected",
		zap.String("user_id", ev.UserID),
		zap.String("server_hostname", ev.ServerHostname),
		zap.Int64("failed_attempts", count),
		zap.String("alert_id", alert.AlertID))

	return alert, nil
}
