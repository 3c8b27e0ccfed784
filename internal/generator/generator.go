package generator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/metrics"
)

// Source service markers. Events injected through the API are labelled
// separately so they can be told apart downstream.
const (
	loopSource = "audit-event-generator"
	apiSource  = "audit-event-generator-api"
)

// eventSchema validates externally submitted events before they are
// published. Only event_type is required; everything else is filled with
// defaults.
var eventSchema = jsonschema.MustCompileString("event.schema.json", `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["event_type"],
	"properties": {
		"event_type": {"type": "string", "minLength": 1},
		"user_id": {"type": "string"},
		"server_hostname": {"type": "string"},
		"action_result": {"type": "string"},
		"severity": {"type": "string"},
		"resource": {"type": "string"},
		"client_ip": {"type": "string"},
		"details": {"type": "object"}
	}
}`)

// Publisher sends one payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Generator emits synthetic audit events.
type Generator struct {
	catalog   *Catalog
	publisher Publisher
	subject   string
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// rng is drawn from by the generation loop and by concurrent Submit
	// calls, so every draw goes through intn.
	mu  sync.Mutex
	rng *rand.Rand
}

func New(publisher Publisher, subject string, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) (*Generator, error) {
	catalog, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	return &Generator{
		catalog:   catalog,
		publisher: publisher,
		subject:   subject,
		interval:  interval,
		metrics:   m,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}, nil
}

// Run emits one random event immediately and then one per interval until
// ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	g.logger.Info("event generation started",
		zap.Duration("interval", g.interval),
		zap.String("subject", g.subject))

	g.emitRandom(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.emitRandom(ctx)
		}
	}
}

func (g *Generator) emitRandom(ctx context.Context) {
	event := g.randomEvent()
	g.countGenerated(event)

	payload, err := json.Marshal(event)
	if err != nil {
		g.logger.Error("failed to encode generated event", zap.Error(err))
		return
	}
	if err := g.publisher.Publish(ctx, g.subject, payload); err != nil {
		g.logger.Warn("failed to publish generated event",
			zap.String("event_type", asString(event["event_type"])),
			zap.Error(err))
		return
	}
	g.logger.Debug("event published",
		zap.String("event_id", asString(event["event_id"])),
		zap.String("event_type", asString(event["event_type"])))
}

// randomEvent builds one event from a randomly picked template.
func (g *Generator) randomEvent() map[string]interface{} {
	tmpl := g.catalog.Templates[g.intn(len(g.catalog.Templates))]

	event := map[string]interface{}{
		"event_id":        uuid.NewString(),
		"timestamp":       g.now().UTC().Format(time.RFC3339Nano),
		"source_service":  loopSource,
		"server_hostname": g.pick(g.catalog.Pools.Hostnames),
		"event_type":      tmpl.EventType,
		"severity":        tmpl.Severity,
		"user_id":         g.pick(g.catalog.Pools.Users),
		"action_result":   tmpl.ActionResult,
	}
	if tmpl.ResourcePool != "" {
		event["resource"] = g.pick(g.catalog.Pools.byName(tmpl.ResourcePool))
	}

	details := map[string]interface{}{}
	for k, v := range tmpl.Details {
		details[k] = v
	}
	g.enrich(tmpl, event, details)
	event["details"] = details
	return event
}

// enrich adds the dynamic per-kind details a static template cannot carry.
func (g *Generator) enrich(tmpl Template, event, details map[string]interface{}) {
	switch tmpl.EventType {
	case "user_login":
		ip := fmt.Sprintf("192.168.1.%d", 100+g.intn(101))
		details["ip_address"] = ip
		details["protocol"] = g.pick(g.catalog.Pools.Protocols)
		event["client_ip"] = ip
	case "sudo_command":
		details["command"] = g.pick(g.catalog.Pools.Commands)
		details["cwd"] = "/home/" + g.pick(g.catalog.Pools.Users)
	case "file_modified":
		details["old_checksum"] = shortID(8)
		details["new_checksum"] = shortID(8)
		details["size_change_bytes"] = g.intn(2001) - 1000
	case "service_status_change":
		if tmpl.ActionResult == "STARTED" {
			details["previous_state"] = g.pick([]string{"STOPPED", "FAILED"})
		}
	case "user_account_management":
		name := "new_user_" + shortID(6)
		event["resource"] = name
		details["group"] = g.pick([]string{"users", "devops", "sudo"})
		details["home_directory"] = "/home/" + name
	}
}

// Submit validates an externally supplied event, fills the server-assigned
// fields and publishes it. The returned string is the assigned event id.
func (g *Generator) Submit(ctx context.Context, raw []byte) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", errs.Malformed("decode event payload", err)
	}
	if err := eventSchema.Validate(payload); err != nil {
		return "", errs.Malformed("validate event payload", err)
	}

	eventID := uuid.NewString()
	payload["event_id"] = eventID
	payload["timestamp"] = g.now().UTC().Format(time.RFC3339Nano)
	payload["source_service"] = apiSource
	if _, ok := payload["server_hostname"]; !ok {
		payload["server_hostname"] = g.pick(g.catalog.Pools.Hostnames)
	}
	if _, ok := payload["user_id"]; !ok {
		payload["user_id"] = g.pick(g.catalog.Pools.Users)
	}
	if _, ok := payload["action_result"]; !ok {
		payload["action_result"] = "SUCCESS"
	}
	if _, ok := payload["severity"]; !ok {
		payload["severity"] = "INFO"
	}
	if _, ok := payload["details"]; !ok {
		payload["details"] = map[string]interface{}{}
	}
	g.countGenerated(payload)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Malformed("encode event payload", err)
	}
	if err := g.publisher.Publish(ctx, g.subject, body); err != nil {
		return "", errs.Transient("publish event", err)
	}

	g.logger.Info("injected event published",
		zap.String("event_id", eventID),
		zap.String("event_type", asString(payload["event_type"])))
	return eventID, nil
}

// countGenerated increments the generation counter. Generated events are
// counted whether or not the publish afterwards succeeds.
func (g *Generator) countGenerated(event map[string]interface{}) {
	g.metrics.EventsGenerated.WithLabelValues(
		asString(event["event_type"]),
		asString(event["server_hostname"]),
		asString(event["action_result"]),
	).Inc()
}

func (g *Generator) pick(vals []string) string {
	return vals[g.intn(len(vals))]
}

// intn serialises draws from the shared source; rand.Rand is not safe for
// concurrent use.
func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

func shortID(n int) string {
	return uuid.NewString()[:n]
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
