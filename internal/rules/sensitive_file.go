package rules

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/model"
)

const (
	SensitiveFileRuleID   = "ANLY-SEC-002"
	SensitiveFileRuleName = "sensitive_file_modified"

	sensitiveFileAlertName = "Sensitive File Modification Detected"
	sensitiveFileRuleDesc  = "Detects modifications to a configured list of sensitive file paths."
)

// analyzeSensitiveFile fires when the modified resource contains one of the
// configured sensitive paths. Matching is case-sensitive substring
// containment, so subpaths like /etc/passwd.bak also trigger.
func (e *Engine) analyzeSensitiveFile(ev *model.AuditEvent, raw []byte) *model.SecurityAlert {
	matched, ok := matchSensitivePath(ev.Resource, e.sensitive)
	if !ok {
		e.logger.Debug("file is not sensitive, no alert triggered",
			zap.String("resource", ev.Resource),
			zap.String("server_hostname", ev.ServerHostname))
		return nil
	}

	description := fmt.Sprintf("Sensitive file '%s' modified by '%s' on '%s'",
		ev.Resource, ev.UserID, ev.ServerHostname)

	alert := e.newAlert(ev, raw,
		sensitiveFileAlertName,
		description,
		model.AnalysisRule{
			RuleID:      SensitiveFileRuleID,
			RuleName:    SensitiveFileRuleName,
			Description: sensitiveFileRuleDesc,
		},
		model.ImpactedResource{
			ResourceType:   "file",
			ResourceID:     ev.Resource,
			ServerHostname: ev.ServerHostname,
		},
		model.ActionFileModified,
		map[string]interface{}{
			"matched_path": matched,
		},
	)

	e.metrics.AlertsGenerated.WithLabelValues(SensitiveFileRuleID, model.SeverityCritical).Inc()
	e.logger.Warn("sensitive file modification detected",
		zap.String("resource", ev.Resource),
		zap.String("user_id", ev.UserID),
		zap.String("server_hostname", ev.ServerHostname),
		zap.String("alert_id", alert.AlertID))

	return alert
}

// matchSensitivePath returns the first configured path contained in
// resource.
func matchSensitivePath(resource string, sensitive []string) (string, bool) {
	if resource == "" {
		return "", false
	}
	for _, path := range sensitive {
		if strings.Contains(resource, path) {
			return path, true
		}
	}
	return "", false
}
