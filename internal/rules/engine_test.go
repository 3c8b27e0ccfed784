package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/config"
	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/metrics"
	"github.com/jojees/project-genesis/internal/model"
)

type counterCall struct {
	userID   string
	hostname string
	eventID  string
	now      time.Time
}

type fakeCounter struct {
	count int64
	err   error
	calls []counterCall
}

func (f *fakeCounter) RecordFailure(_ context.Context, userID, hostname, eventID string, now time.Time) (int64, error) {
	f.calls = append(f.calls, counterCall{userID, hostname, eventID, now})
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func newTestEngine(t *testing.T, counter FailureCounter) *Engine {
	t.Helper()
	cfg := config.Analysis{
		FailedLoginWindowSeconds: 60,
		FailedLoginThreshold:     3,
		SensitiveFiles:           []string{"/etc/sudoers", "/etc/shadow", "/etc/passwd"},
	}
	e := NewEngine(counter, cfg, "audit-log-analysis", metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	e.now = func() time.Time { return time.Date(2025, 6, 11, 10, 20, 30, 0, time.UTC) }
	return e
}

func loginFailureEvent() (*model.AuditEvent, []byte) {
	raw := []byte(`{"event_id":"evt-1","timestamp":"2025-06-11T10:20:30+00:00","event_type":"user_login","action_result":"FAILURE","user_id":"alice","server_hostname":"h1","source_service":"auth-service","client_ip":"10.1.2.3"}`)
	ev, _ := model.DecodeEvent(raw)
	return ev, raw
}

func TestFailedLoginBurstFiresAtThreshold(t *testing.T) {
	counter := &fakeCounter{count: 3}
	e := newTestEngine(t, counter)
	ev, raw := loginFailureEvent()

	alert, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, "Multiple Failed Login Attempts", alert.AlertName)
	assert.Equal(t, model.AlertTypeSecurity, alert.AlertType)
	assert.Equal(t, model.SeverityCritical, alert.Severity)
	assert.Equal(t, FailedLoginRuleID, alert.AnalysisRule.RuleID)
	assert.Equal(t, FailedLoginRuleName, alert.AnalysisRule.RuleName)
	assert.Equal(t, "evt-1", alert.CorrelationID)
	assert.Equal(t, "audit-log-analysis", alert.SourceServiceName)
	assert.Equal(t, model.ActionLoginFailed, alert.ActionObserved)

	assert.Equal(t, model.TriggeredBy{ActorType: "user", ActorID: "alice", ClientIP: "10.1.2.3"}, alert.TriggeredBy)
	assert.Equal(t, model.ImpactedResource{ResourceType: "host", ResourceID: "h1", ServerHostname: "h1"}, alert.ImpactedResource)

	assert.Equal(t, int64(3), alert.Metadata["failed_attempts"])
	assert.Equal(t, 60, alert.Metadata["window_seconds"])
	assert.Equal(t, 3, alert.Metadata["threshold"])

	assert.Equal(t, "2025-06-11T10:20:30Z", alert.Timestamp)
	assert.JSONEq(t, string(raw), string(alert.RawEventData))

	_, err = uuid.Parse(alert.AlertID)
	assert.NoError(t, err, "alert id must be a UUID")
}

func TestFailedLoginBelowThresholdNoAlert(t *testing.T) {
	counter := &fakeCounter{count: 2}
	e := newTestEngine(t, counter)
	ev, raw := loginFailureEvent()

	alert, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestFailedLoginRecordsSubjectKey(t *testing.T) {
	counter := &fakeCounter{count: 1}
	e := newTestEngine(t, counter)
	ev, raw := loginFailureEvent()

	_, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)

	require.Len(t, counter.calls, 1)
	call := counter.calls[0]
	assert.Equal(t, "alice", call.userID)
	assert.Equal(t, "h1", call.hostname)
	assert.Equal(t, "evt-1", call.eventID)
	assert.Equal(t, time.Date(2025, 6, 11, 10, 20, 30, 0, time.UTC), call.now)
}

func TestFailedLoginCounterErrorPropagates(t *testing.T) {
	counter := &fakeCounter{err: errs.Transient("record failed login", assert.AnError)}
	e := newTestEngine(t, counter)
	ev, raw := loginFailureEvent()

	alert, err := e.Evaluate(context.Background(), ev, raw)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Nil(t, alert, "a counter failure must not be reported as no-alert")
}

func TestSensitiveFileModificationFires(t *testing.T) {
	e := newTestEngine(t, &fakeCounter{})
	raw := []byte(`{"event_id":"evt-9","event_type":"file_modified","action_result":"MODIFIED","user_id":"root","server_hostname":"db-01","resource":"/etc/passwd","source_service":"file-monitor"}`)
	ev, err := model.DecodeEvent(raw)
	require.NoError(t, err)

	alert, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, "Sensitive File Modification Detected", alert.AlertName)
	assert.Equal(t, SensitiveFileRuleID, alert.AnalysisRule.RuleID)
	assert.Equal(t, SensitiveFileRuleName, alert.AnalysisRule.RuleName)
	assert.Equal(t, model.SeverityCritical, alert.Severity)
	assert.Equal(t, model.ActionFileModified, alert.ActionObserved)
	assert.Equal(t, model.ImpactedResource{ResourceType: "file", ResourceID: "/etc/passwd", ServerHostname: "db-01"}, alert.ImpactedResource)
	assert.Equal(t, "/etc/passwd", alert.Metadata["matched_path"])
	assert.Equal(t, "N/A", alert.TriggeredBy.ClientIP, "missing client_ip defaults to N/A")
}

func TestSensitiveFileNoMatchNoAlert(t *testing.T) {
	e := newTestEngine(t, &fakeCounter{})
	raw := []byte(`{"event_id":"evt-10","event_type":"file_modified","action_result":"MODIFIED","user_id":"root","server_hostname":"db-01","resource":"/var/log/syslog","source_service":"file-monitor"}`)
	ev, err := model.DecodeEvent(raw)
	require.NoError(t, err)

	alert, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestMatchSensitivePath(t *testing.T) {
	sensitive := []string{"/etc/sudoers", "/etc/passwd"}

	tests := []struct {
		name     string
		resource string
		want     string
		matched  bool
	}{
		{"exact path", "/etc/passwd", "/etc/passwd", true},
		{"containing path", "/etc/passwd.bak", "/etc/passwd", true},
		{"unrelated path", "/var/log/syslog", "", false},
		{"case sensitive", "/ETC/PASSWD", "", false},
		{"empty resource", "", "", false},
		{"first match wins", "/etc/sudoers.d/../passwd", "/etc/sudoers", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := matchSensitivePath(tt.resource, sensitive)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateIgnoresNonMatchingEvents(t *testing.T) {
	counter := &fakeCounter{count: 99}
	e := newTestEngine(t, counter)

	tests := []struct {
		name string
		raw  string
	}{
		{"successful login", `{"event_id":"e1","event_type":"user_login","action_result":"SUCCESS","user_id":"alice","server_hostname":"h1"}`},
		{"file read", `{"event_id":"e2","event_type":"file_modified","action_result":"SUCCESS","user_id":"bob","server_hostname":"h2","resource":"/etc/passwd"}`},
		{"unknown type", `{"event_id":"e3","event_type":"process_start","action_result":"SUCCESS","user_id":"carol","server_hostname":"h3"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := model.DecodeEvent([]byte(tt.raw))
			require.NoError(t, err)

			alert, err := e.Evaluate(context.Background(), ev, []byte(tt.raw))
			require.NoError(t, err)
			assert.Nil(t, alert)
		})
	}

	assert.Empty(t, counter.calls, "non-matching events must not touch the counter")
}

// windowCounter reproduces the sliding-window contract in memory: entries
// strictly older than the window are pruned, the boundary entry is kept.
type windowCounter struct {
	window time.Duration
	scores []int64
}

func (w *windowCounter) RecordFailure(_ context.Context, _, _, _ string, now time.Time) (int64, error) {
	w.scores = append(w.scores, now.Unix())
	cutoff := now.Unix() - int64(w.window/time.Second)
	kept := w.scores[:0]
	for _, s := range w.scores {
		if s >= cutoff {
			kept = append(kept, s)
		}
	}
	w.scores = kept
	return int64(len(kept)), nil
}

func TestFailedLoginBurstScenarios(t *testing.T) {
	base := time.Date(2025, 6, 11, 10, 20, 30, 0, time.UTC)

	t.Run("three failures within ten seconds fire on the third", func(t *testing.T) {
		e := newTestEngine(t, &windowCounter{window: 60 * time.Second})
		ev, raw := loginFailureEvent()

		var fired []*model.SecurityAlert
		for _, offset := range []time.Duration{0, 5 * time.Second, 10 * time.Second} {
			now := base.Add(offset)
			e.now = func() time.Time { return now }

			alert, err := e.Evaluate(context.Background(), ev, raw)
			require.NoError(t, err)
			if alert != nil {
				fired = append(fired, alert)
			}
		}

		require.Len(t, fired, 1)
		assert.Equal(t, FailedLoginRuleID, fired[0].AnalysisRule.RuleID)
		assert.Equal(t, int64(3), fired[0].Metadata["failed_attempts"])
	})

	t.Run("failures seventy seconds apart never fire", func(t *testing.T) {
		e := newTestEngine(t, &windowCounter{window: 60 * time.Second})
		ev, raw := loginFailureEvent()

		for i := 0; i < 4; i++ {
			now := base.Add(time.Duration(i) * 70 * time.Second)
			e.now = func() time.Time { return now }

			alert, err := e.Evaluate(context.Background(), ev, raw)
			require.NoError(t, err)
			assert.Nil(t, alert)
		}
	})
}

func TestAlertIDsAreUniquePerDetection(t *testing.T) {
	counter := &fakeCounter{count: 5}
	e := newTestEngine(t, counter)
	ev, raw := loginFailureEvent()

	first, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), ev, raw)
	require.NoError(t, err)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.AlertID, second.AlertID)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
}
