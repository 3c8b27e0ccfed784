package model

import (
	json "github.com/goccy/go-json"
)

// Alert classification constants shared by both rules.
const (
	AlertTypeSecurity = "SECURITY"
	SeverityCritical  = "CRITICAL"

	ActionLoginFailed  = "LOGIN_FAILED"
	ActionFileModified = "FILE_MODIFIED"
)

// AnalysisRule identifies the detection rule that produced an alert.
type AnalysisRule struct {
	RuleID      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	Description string `json:"description,omitempty"`
}

// TriggeredBy describes the actor behind the triggering event.
type TriggeredBy struct {
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
	ClientIP  string `json:"client_ip"`
}

// ImpactedResource describes what the triggering event acted on.
type ImpactedResource struct {
	ResourceType   string `json:"resource_type"`
	ResourceID     string `json:"resource_id"`
	ServerHostname string `json:"server_hostname"`
}

// SecurityAlert is the unit published to audit.alerts and persisted by the
// notifier. AlertID is generated exactly once at creation time and is the
// idempotency key for storage; CorrelationID echoes the triggering event's id
// and need not be unique. RawEventData carries the triggering event verbatim,
// unknown producer fields included, so the audit trail survives re-encoding.
type SecurityAlert struct {
	AlertID           string                 `json:"alert_id"`
	CorrelationID     string                 `json:"correlation_id"`
	Timestamp         string                 `json:"timestamp"`
	AlertName         string                 `json:"alert_name"`
	AlertType         string                 `json:"alert_type"`
	Severity          string                 `json:"severity"`
	Description       string                 `json:"description"`
	SourceServiceName string                 `json:"source_service_name"`
	AnalysisRule      AnalysisRule           `json:"analysis_rule"`
	TriggeredBy       TriggeredBy            `json:"triggered_by"`
	ImpactedResource  ImpactedResource       `json:"impacted_resource"`
	ActionObserved    string                 `json:"action_observed"`
	Metadata          map[string]interface{} `json:"metadata"`
	RawEventData      json.RawMessage        `json:"raw_event_data"`
}

// DecodeEvent parses an inbound queue body into an AuditEvent. A decode error
// means the body is malformed for this stage; missing fields are tolerated
// and surface as zero values the rules simply will not match.
func DecodeEvent(body []byte) (*AuditEvent, error) {
	var ev AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DecodeAlert parses an inbound queue body into a SecurityAlert.
func DecodeAlert(body []byte) (*SecurityAlert, error) {
	var alert SecurityAlert
	if err := json.Unmarshal(body, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// Encode serializes the alert to its canonical wire form.
func (a *SecurityAlert) Encode() ([]byte, error) {
	return json.Marshal(a)
}
