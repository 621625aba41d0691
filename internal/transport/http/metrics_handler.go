package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"ratecal/internal/infrastructure"
)

// RunStats counts runs by status.
type RunStats interface {
	Stats() map[string]int
}

// HubStats reports websocket hub counters.
type HubStats interface {
	GetHubMetrics() map[string]interface{}
}

// MetricsHandler serves a JSON snapshot of runtime counters. The Prometheus
// exposition lives at /metrics.
type MetricsHandler struct {
	runs   RunStats
	hub    HubStats
	system *infrastructure.SystemMetricsCollector
}

// NewMetricsHandler creates a new metrics handler. hub and system may be nil.
func NewMetricsHandler(runs RunStats, hub HubStats, system *infrastructure.SystemMetricsCollector) *MetricsHandler {
	return &MetricsHandler{runs: runs, hub: hub, system: system}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetStats)
	return r
}

// GetStats returns run, websocket and process counters
func (h *MetricsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"runs":      h.runs.Stats(),
		"timestamp": time.Now().UTC(),
	}
	if h.hub != nil {
		response["websocket"] = h.hub.GetHubMetrics()
	}
	if h.system != nil {
		response["system"] = h.system.GetCurrentStats(r.Context())
	}
	render.JSON(w, r, response)
}
