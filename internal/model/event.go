// Package model defines the wire types carried on the audit queues.
package model

// Event type and action-result vocabulary used by the detection rules.
const (
	EventTypeUserLogin    = "user_login"
	EventTypeFileModified = "file_modified"

	ActionResultFailure  = "FAILURE"
	ActionResultSuccess  = "SUCCESS"
	ActionResultModified = "MODIFIED"
)

// AuditEvent is the unit consumed from the audit.events queue. The timestamp
// stays a raw producer-assigned string: producers have been observed emitting
// suffixes like "+00:00Z" that are not valid ISO-8601, and repairing those is
// the persistence writer's job, not the decoder's.
type AuditEvent struct {
	EventID        string                 `json:"event_id"`
	Timestamp      string                 `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	ActionResult   string                 `json:"action_result"`
	UserID         string                 `json:"user_id"`
	ServerHostname string                 `json:"server_hostname"`
	Resource       string                 `json:"resource,omitempty"`
	SourceService  string                 `json:"source_service"`
	ClientIP       string                 `json:"client_ip,omitempty"`
	Severity       string                 `json:"severity,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}
