package generator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/metrics"
)

type capturingPublisher struct {
	mu       sync.Mutex
	err      error
	payloads [][]byte
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.payloads = append(p.payloads, cp)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func (p *capturingPublisher) last(t *testing.T) map[string]interface{} {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.payloads)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(p.payloads[len(p.payloads)-1], &out))
	return out
}

func newTestGenerator(t *testing.T, pub Publisher) (*Generator, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	g, err := New(pub, "audit.events", 5*time.Millisecond, m, zap.NewNop())
	require.NoError(t, err)
	g.rng = rand.New(rand.NewSource(1))
	g.now = func() time.Time { return time.Date(2025, 6, 11, 10, 20, 30, 0, time.UTC) }
	return g, m
}

func TestLoadCatalog(t *testing.T) {
	c, err := loadCatalog()
	require.NoError(t, err)
	assert.Len(t, c.Templates, 7)
	assert.NotEmpty(t, c.Pools.Hostnames)
	assert.NotEmpty(t, c.Pools.Users)
	assert.Contains(t, c.Pools.Files, "/etc/passwd")
}

func TestRandomEventShape(t *testing.T) {
	g, _ := newTestGenerator(t, &capturingPublisher{})

	for i := 0; i < 50; i++ {
		event := g.randomEvent()

		_, err := uuid.Parse(asString(event["event_id"]))
		require.NoError(t, err)
		_, err = time.Parse(time.RFC3339Nano, asString(event["timestamp"]))
		require.NoError(t, err)
		assert.Equal(t, loopSource, event["source_service"])
		assert.Contains(t, g.catalog.Pools.Hostnames, event["server_hostname"])
		assert.Contains(t, g.catalog.Pools.Users, event["user_id"])
		require.NoError(t, eventSchema.Validate(event))

		details, ok := event["details"].(map[string]interface{})
		require.True(t, ok)

		switch event["event_type"] {
		case "user_login":
			assert.Equal(t, details["ip_address"], event["client_ip"])
			assert.Contains(t, []interface{}{"ssh", "console"}, details["protocol"])
		case "file_modified":
			assert.Contains(t, g.catalog.Pools.Files, event["resource"])
			assert.Len(t, asString(details["old_checksum"]), 8)
		case "service_status_change":
			assert.Contains(t, g.catalog.Pools.Services, event["resource"])
			assert.NotEmpty(t, details["previous_state"])
		case "user_account_management":
			assert.Contains(t, asString(event["resource"]), "new_user_")
			assert.Equal(t, "/home/"+asString(event["resource"]), details["home_directory"])
		}
	}
}

func TestRandomEventCoversAllTemplates(t *testing.T) {
	g, _ := newTestGenerator(t, &capturingPublisher{})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		event := g.randomEvent()
		seen[asString(event["event_type"])+"/"+asString(event["action_result"])] = true
	}
	assert.Len(t, seen, len(g.catalog.Templates))
}

func TestSubmitFillsDefaults(t *testing.T) {
	pub := &capturingPublisher{}
	g, m := newTestGenerator(t, pub)

	id, err := g.Submit(context.Background(), []byte(`{"event_type":"user_login"}`))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	event := pub.last(t)
	assert.Equal(t, id, event["event_id"])
	assert.Equal(t, apiSource, event["source_service"])
	assert.Equal(t, "2025-06-11T10:20:30Z", event["timestamp"])
	assert.Equal(t, "SUCCESS", event["action_result"])
	assert.Equal(t, "INFO", event["severity"])
	assert.Equal(t, map[string]interface{}{}, event["details"])
	assert.Contains(t, g.catalog.Pools.Hostnames, event["server_hostname"])
	assert.Contains(t, g.catalog.Pools.Users, event["user_id"])

	host := asString(event["server_hostname"])
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.EventsGenerated.WithLabelValues("user_login", host, "SUCCESS")))
}

func TestSubmitKeepsProvidedFields(t *testing.T) {
	pub := &capturingPublisher{}
	g, _ := newTestGenerator(t, pub)

	_, err := g.Submit(context.Background(), []byte(`{
		"event_type": "file_modified",
		"server_hostname": "custom-host",
		"user_id": "bob",
		"severity": "CRITICAL",
		"action_result": "MODIFIED",
		"resource": "/etc/shadow",
		"details": {"editor": "vim"},
		"custom_field": "kept"
	}`))
	require.NoError(t, err)

	event := pub.last(t)
	assert.Equal(t, "custom-host", event["server_hostname"])
	assert.Equal(t, "bob", event["user_id"])
	assert.Equal(t, "CRITICAL", event["severity"])
	assert.Equal(t, "MODIFIED", event["action_result"])
	assert.Equal(t, "/etc/shadow", event["resource"])
	assert.Equal(t, map[string]interface{}{"editor": "vim"}, event["details"])
	assert.Equal(t, "kept", event["custom_field"], "unknown fields must pass through")
}

func TestSubmitRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"event_type"`},
		{"missing event_type", `{}`},
		{"empty event_type", `{"event_type":""}`},
		{"wrong event_type type", `{"event_type":42}`},
		{"wrong details type", `{"event_type":"x","details":[]}`},
	}

	pub := &capturingPublisher{}
	g, _ := newTestGenerator(t, pub)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Submit(context.Background(), []byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errs.IsMalformed(err))
		})
	}
	assert.Zero(t, pub.count(), "rejected payloads must not be published")
}

func TestSubmitPublishFailureIsTransient(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("not connected")}
	g, m := newTestGenerator(t, pub)

	_, err := g.Submit(context.Background(), []byte(`{"event_type":"user_login","server_hostname":"h1"}`))
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.EventsGenerated.WithLabelValues("user_login", "h1", "SUCCESS")),
		"events are counted as generated even when publishing fails")
}

func TestRunEmitsOnInterval(t *testing.T) {
	pub := &capturingPublisher{}
	g, _ := newTestGenerator(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()

	require.Eventually(t, func() bool { return pub.count() >= 2 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunEmitsImmediately(t *testing.T) {
	pub := &capturingPublisher{}
	g, _ := newTestGenerator(t, pub)
	g.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()

	require.Eventually(t, func() bool { return pub.count() == 1 },
		2*time.Second, time.Millisecond,
		"the first event must not wait out a full interval")
	cancel()
	<-done
}

// Submit runs on HTTP handler goroutines while the generation loop draws
// from the same random source.
func TestSubmitConcurrentWithRun(t *testing.T) {
	pub := &capturingPublisher{}
	g, _ := newTestGenerator(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := g.Submit(ctx, []byte(`{"event_type":"user_login"}`))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	assert.GreaterOrEqual(t, pub.count(), workers*perWorker)
}
