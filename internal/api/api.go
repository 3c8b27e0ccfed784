// Package api serves the HTTP surface of each service: health and metrics
// everywhere, the alert query endpoints on the notifier and the event
// injection endpoint on the generator.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/health"
	"github.com/jojees/project-genesis/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// AlertReader fetches persisted alerts for the query endpoints.
type AlertReader interface {
	ListAlerts(ctx context.Context, limit, offset int) ([]store.StoredAlert, error)
	GetAlert(ctx context.Context, alertID string) (*store.StoredAlert, error)
}

// EventSubmitter validates and publishes an externally supplied event,
// returning the assigned event id.
type EventSubmitter interface {
	Submit(ctx context.Context, raw []byte) (string, error)
}

// Config selects which endpoints a service mounts. Alerts and Events are
// optional; health and metrics are always served.
type Config struct {
	ServiceName string
	Health      *health.Tracker
	Gatherer    prometheus.Gatherer
	Alerts      AlertReader
	Events      EventSubmitter
}

// APIServer provides the HTTP API endpoints for one service.
type APIServer struct {
	cfg    Config
	logger *zap.Logger
	router *mux.Router
}

// NewAPIServer creates an API server with the routes cfg enables.
func NewAPIServer(cfg Config, logger *zap.Logger) *APIServer {
	server := &APIServer{
		cfg:    cfg,
		logger: logger,
		router: mux.NewRouter(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures the HTTP routes
func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics",
		promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	if s.cfg.Alerts != nil {
		s.router.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
		s.router.HandleFunc("/alerts/{alert_id}", s.handleGetAlert).Methods("GET")
	}
	if s.cfg.Events != nil {
		s.router.HandleFunc("/generate_event", s.handleGenerateEvent).Methods("POST")
	}
}

// ServeHTTP implements http.Handler interface
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth reports the component states tracked for this service. The
// overall status is healthy only when every component is up.
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cfg.Health.Snapshot()

	response := map[string]interface{}{}
	healthy := true
	for component, up := range snapshot {
		response[healthKey(component)] = up
		healthy = healthy && up
	}

	code := http.StatusOK
	response["status"] = "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		response["status"] = "unhealthy"
	}
	s.writeJSONResponse(w, code, response)
}

// healthKey renders a component name as its health document key.
func healthKey(component string) string {
	if component == health.ComponentConsumer {
		return "consumer_alive"
	}
	return component + "_connected"
}

// handleListAlerts serves persisted alerts newest first.
func (s *APIServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Health.Snapshot()[health.ComponentDatabase] {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Service not ready to fetch alerts")
		return
	}

	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid limit parameter")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid offset parameter")
		return
	}

	alerts, err := s.cfg.Alerts.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list alerts", zap.Error(err))
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve alerts")
		return
	}

	s.writeJSONResponse(w, http.StatusOK, alerts)
}

// handleGetAlert serves a single alert by id.
func (s *APIServer) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Health.Snapshot()[health.ComponentDatabase] {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Service not ready to fetch alerts")
		return
	}

	alertID := mux.Vars(r)["alert_id"]
	alert, err := s.cfg.Alerts.GetAlert(r.Context(), alertID)
	if err != nil {
		s.logger.Error("failed to get alert",
			zap.String("alert_id", alertID),
			zap.Error(err))
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve alert")
		return
	}
	if alert == nil {
		s.writeJSONResponse(w, http.StatusNotFound, map[string]interface{}{
			"message": "Alert not found",
		})
		return
	}

	s.writeJSONResponse(w, http.StatusOK, alert)
}

// handleGenerateEvent accepts an external event, fills the server-assigned
// fields and publishes it to the event stream.
func (s *APIServer) handleGenerateEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	eventID, err := s.cfg.Events.Submit(r.Context(), body)
	if err != nil {
		if errs.IsMalformed(err) {
			s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to publish submitted event", zap.Error(err))
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to publish event")
		return
	}

	s.writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"status":   "success",
		"event_id": eventID,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSONResponse writes a JSON response
func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error": message,
	})
}
