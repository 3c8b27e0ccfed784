// Package store persists security alerts to PostgreSQL. The alert_id
// primary key is the idempotency boundary: redelivered alerts collapse
// into a single row.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/health"
	"github.com/jojees/project-genesis/internal/model"
)

// Outcome reports what an insert did. Duplicate is a normal outcome, not
// an error: it means a previous delivery already produced the row.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// PostgresStore handles database operations for alerts.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
	health *health.Tracker
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(dsn string, logger *zap.Logger, tracker *health.Tracker) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		tracker.Set(health.ComponentDatabase, false)
		return nil, errs.Transient("postgres connect", err)
	}
	tracker.Set(health.ComponentDatabase, true)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: logger,
		health: tracker,
	}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Health checks if the database is accessible.
func (s *PostgresStore) Health(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	s.health.Set(health.ComponentDatabase, err == nil)
	return err
}

// EnsureSchema creates the alerts table and its indexes if they do not
// already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id UUID PRIMARY KEY,
			correlation_id UUID NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			received_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			alert_name VARCHAR(255) NOT NULL,
			alert_type VARCHAR(50) NOT NULL,
			severity VARCHAR(50) NOT NULL,
			description TEXT,
			source_service_name VARCHAR(255),
			rule_id VARCHAR(255),
			rule_name VARCHAR(255),
			actor_type VARCHAR(50),
			actor_id VARCHAR(255),
			client_ip INET,
			resource_type VARCHAR(50),
			resource_id VARCHAR(255),
			server_hostname VARCHAR(255),
			action_observed VARCHAR(255),
			analysis_rule_details JSONB,
			triggered_by_details JSONB,
			impacted_resource_details JSONB,
			metadata JSONB,
			raw_event_data JSONB NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return errs.Transient("create alerts table", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts (timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_alert_type ON alerts (alert_type)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts (severity)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_actor_id ON alerts (actor_id)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_server_hostname ON alerts (server_hostname)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_rule_name ON alerts (rule_name)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_metadata_gin ON alerts USING GIN (metadata)",
		"CREATE INDEX IF NOT EXISTS idx_alerts_raw_event_data_gin ON alerts USING GIN (raw_event_data)",
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.Transient("create alerts index", err)
		}
	}

	s.logger.Info("alerts table and indexes ensured")
	return nil
}

// InsertAlert writes one alert row. A unique violation on alert_id is the
// Duplicate outcome; any other database failure is transient. An alert
// timestamp that cannot be parsed even after normalization is malformed
// and cannot be retried into success.
func (s *PostgresStore) InsertAlert(ctx context.Context, alert *model.SecurityAlert) (Outcome, error) {
	ts, err := normalizeTimestamp(alert.Timestamp)
	if err != nil {
		return 0, errs.Malformed("parse alert timestamp", err)
	}

	analysisRule, err := json.Marshal(alert.AnalysisRule)
	if err != nil {
		return 0, errs.Malformed("encode analysis rule", err)
	}
	triggeredBy, err := json.Marshal(alert.TriggeredBy)
	if err != nil {
		return 0, errs.Malformed("encode triggered by", err)
	}
	impactedResource, err := json.Marshal(alert.ImpactedResource)
	if err != nil {
		return 0, errs.Malformed("encode impacted resource", err)
	}
	metadata := []byte("{}")
	if alert.Metadata != nil {
		if metadata, err = json.Marshal(alert.Metadata); err != nil {
			return 0, errs.Malformed("encode metadata", err)
		}
	}
	rawEvent := []byte(alert.RawEventData)
	if len(rawEvent) == 0 {
		rawEvent = []byte("{}")
	}

	insertSQL := `
		INSERT INTO alerts (
			alert_id, correlation_id, timestamp, alert_name, alert_type, severity, description,
			source_service_name, rule_id, rule_name,
			actor_type, actor_id, client_ip,
			resource_type, resource_id, server_hostname, action_observed,
			analysis_rule_details, triggered_by_details, impacted_resource_details, metadata, raw_event_data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
	`
	_, err = s.db.ExecContext(ctx, insertSQL,
		alert.AlertID,
		alert.CorrelationID,
		ts,
		alert.AlertName,
		alert.AlertType,
		alert.Severity,
		alert.Description,
		alert.SourceServiceName,
		alert.AnalysisRule.RuleID,
		alert.AnalysisRule.RuleName,
		alert.TriggeredBy.ActorType,
		alert.TriggeredBy.ActorID,
		clientIPForDB(alert.TriggeredBy.ClientIP),
		alert.ImpactedResource.ResourceType,
		alert.ImpactedResource.ResourceID,
		alert.ImpactedResource.ServerHostname,
		alert.ActionObserved,
		analysisRule,
		triggeredBy,
		impactedResource,
		metadata,
		rawEvent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug("alert already persisted",
				zap.String("alert_id", alert.AlertID))
			return OutcomeDuplicate, nil
		}
		s.health.Set(health.ComponentDatabase, false)
		return 0, errs.Transient("insert alert", err)
	}
	s.health.Set(health.ComponentDatabase, true)

	s.logger.Info("alert persisted",
		zap.String("alert_id", alert.AlertID),
		zap.String("alert_name", alert.AlertName))
	return OutcomeInserted, nil
}

// Write implements the persistence-stage writer contract.
func (s *PostgresStore) Write(ctx context.Context, alert *model.SecurityAlert) (Outcome, error) {
	return s.InsertAlert(ctx, alert)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// normalizeTimestamp repairs the malformed suffix some producers emit: an
// ISO-8601 timestamp that already carries an explicit offset but gained a
// redundant trailing Z (e.g. "2025-07-02T13:57:51+00:00Z").
func normalizeTimestamp(ts string) (time.Time, error) {
	if strings.HasSuffix(ts, "+00:00Z") || strings.HasSuffix(ts, "-00:00Z") {
		ts = strings.TrimSuffix(ts, "Z")
	}
	return time.Parse(time.RFC3339Nano, ts)
}

// clientIPForDB maps the wire placeholder for an unknown address to NULL,
// which the INET column requires.
func clientIPForDB(ip string) interface{} {
	if ip == "" || ip == "N/A" {
		return nil
	}
	return ip
}

// StoredAlert is one alerts row as served by the query API: the scalar
// columns flattened to the top level plus the JSONB documents verbatim.
type StoredAlert struct {
	AlertID                 string          `json:"alert_id"`
	CorrelationID           string          `json:"correlation_id"`
	Timestamp               time.Time       `json:"timestamp"`
	ReceivedAt              time.Time       `json:"received_at"`
	AlertName               string          `json:"alert_name"`
	AlertType               string          `json:"alert_type"`
	Severity                string          `json:"severity"`
	Description             string          `json:"description"`
	SourceServiceName       string          `json:"source_service_name"`
	RuleID                  string          `json:"rule_id"`
	RuleName                string          `json:"rule_name"`
	ActorType               string          `json:"actor_type"`
	ActorID                 string          `json:"actor_id"`
	ClientIP                *string         `json:"client_ip"`
	ResourceType            string          `json:"resource_type"`
	ResourceID              string          `json:"resource_id"`
	ServerHostname          string          `json:"server_hostname"`
	ActionObserved          string          `json:"action_observed"`
	AnalysisRuleDetails     json.RawMessage `json:"analysis_rule_details"`
	TriggeredByDetails      json.RawMessage `json:"triggered_by_details"`
	ImpactedResourceDetails json.RawMessage `json:"impacted_resource_details"`
	Metadata                json.RawMessage `json:"metadata"`
	RawEventData            json.RawMessage `json:"raw_event_data"`
}

const alertColumns = `alert_id, correlation_id, timestamp, received_at, alert_name, alert_type, severity,
		source_service_name, rule_id, rule_name, description,
		actor_type, actor_id, client_ip,
		resource_type, resource_id, server_hostname, action_observed,
		analysis_rule_details, triggered_by_details, impacted_resource_details, metadata, raw_event_data`

// ListAlerts returns stored alerts newest first.
func (s *PostgresStore) ListAlerts(ctx context.Context, limit, offset int) ([]StoredAlert, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM alerts ORDER BY timestamp DESC LIMIT $1 OFFSET $2", alertColumns)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errs.Transient("list alerts", err)
	}
	defer rows.Close()

	alerts := []StoredAlert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, errs.Transient("scan alert row", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transient("iterate alert rows", err)
	}
	return alerts, nil
}

// GetAlert returns one alert by its ID, or nil if no row matches.
func (s *PostgresStore) GetAlert(ctx context.Context, alertID string) (*StoredAlert, error) {
	query := fmt.Sprintf("SELECT %s FROM alerts WHERE alert_id = $1", alertColumns)

	alert, err := scanAlert(s.db.QueryRowContext(ctx, query, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Transient("get alert", err)
	}
	return alert, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*StoredAlert, error) {
	// All text columns after severity allow NULL in the schema, so scan them
	// through NullString even though the writer always fills them.
	var (
		a        StoredAlert
		src      sql.NullString
		ruleID   sql.NullString
		ruleName sql.NullString
		desc     sql.NullString
		actType  sql.NullString
		actID    sql.NullString
		clientIP sql.NullString
		resType  sql.NullString
		resID    sql.NullString
		hostname sql.NullString
		action   sql.NullString
	)

	err := row.Scan(
		&a.AlertID, &a.CorrelationID, &a.Timestamp, &a.ReceivedAt,
		&a.AlertName, &a.AlertType, &a.Severity,
		&src, &ruleID, &ruleName, &desc,
		&actType, &actID, &clientIP,
		&resType, &resID, &hostname, &action,
		&a.AnalysisRuleDetails, &a.TriggeredByDetails, &a.ImpactedResourceDetails,
		&a.Metadata, &a.RawEventData,
	)
	if err != nil {
		return nil, err
	}

	a.SourceServiceName = src.String
	a.RuleID = ruleID.String
	a.RuleName = ruleName.String
	a.Description = desc.String
	a.ActorType = actType.String
	a.ActorID = actID.String
	a.ResourceType = resType.String
	a.ResourceID = resID.String
	a.ServerHostname = hostname.String
	a.ActionObserved = action.String
	if clientIP.Valid {
		a.ClientIP = &clientIP.String
	}
	return &a, nil
}
