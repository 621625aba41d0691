package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/calibration"
	"ratecal/internal/config"
	apierrors "ratecal/internal/errors"
	"ratecal/internal/infrastructure"
	"ratecal/internal/middleware"
	"ratecal/internal/services"
	"ratecal/internal/websocket"
)

func TestHealthHandler(t *testing.T) {
	logger := infrastructure.NewLoggerTo(io.Discard, "error")
	dir := t.TempDir()

	tests := []struct {
		name       string
		service    *services.HealthService
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "health",
			service:    services.NewHealthService("1.2.3", nil, nil, nil, nil, logger),
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `"status":"ok"`,
		},
		{
			name:       "ready",
			service:    services.NewHealthService("1.2.3", &config.Paths{BaseDir: dir, ReportsDir: dir}, services.NewMemoryRunStore(10), nil, nil, logger),
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `"status":"ready"`,
		},
		{
			name:       "not ready without a store",
			service:    services.NewHealthService("1.2.3", &config.Paths{BaseDir: dir, ReportsDir: dir}, nil, nil, nil, logger),
			path:       "/readyz",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `"status":"not_ready"`,
		},
		{
			name:       "liveness",
			service:    services.NewHealthService("1.2.3", nil, services.NewMemoryRunStore(10), nil, nil, logger),
			path:       "/livez",
			wantStatus: http.StatusOK,
			wantBody:   `"status":"alive"`,
		},
		{
			name:       "version",
			service:    services.NewHealthService("1.2.3", nil, nil, nil, nil, logger),
			path:       "/version",
			wantStatus: http.StatusOK,
			wantBody:   `"version":"1.2.3"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.service, logger)
			r := chi.NewRouter()
			r.Get("/healthz", h.HealthCheck)
			r.Get("/readyz", h.ReadinessCheck)
			r.Get("/livez", h.LivenessCheck)
			r.Get("/version", h.Version)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestSchemaHandler(t *testing.T) {
	logger := infrastructure.NewLoggerTo(io.Discard, "error")
	r := chi.NewRouter()
	r.Mount("/api/v1/schema", NewSchemaHandler(apierrors.NewErrorHandler(logger, false)).Routes())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var index struct {
		Schemas []string `json:"schemas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &index))
	assert.Equal(t, []string{"calibration-request", "run"}, index.Schemas)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schema/calibration-request", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.Equal(t, "object", schema.Type)
	for _, field := range []string{"rows", "location", "dataset", "credibility", "guard_band", "optimizer"} {
		assert.Contains(t, schema.Properties, field)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schema/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type staticRunStats map[string]int

func (s staticRunStats) Stats() map[string]int { return s }

func TestMetricsHandler(t *testing.T) {
	logger := infrastructure.NewLoggerTo(io.Discard, "error")
	hub := websocket.NewHub(logger)

	tests := []struct {
		name        string
		handler     *MetricsHandler
		wantSection []string
		noSection   []string
	}{
		{
			name:        "runs only",
			handler:     NewMetricsHandler(staticRunStats{"total_runs": 2}, nil, nil),
			wantSection: []string{"runs", "timestamp"},
			noSection:   []string{"websocket", "system"},
		},
		{
			name:        "with hub",
			handler:     NewMetricsHandler(staticRunStats{"total_runs": 0}, hub, nil),
			wantSection: []string{"runs", "websocket"},
			noSection:   []string{"system"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			for _, s := range tt.wantSection {
				assert.Contains(t, body, s)
			}
			for _, s := range tt.noSection {
				assert.NotContains(t, body, s)
			}
		})
	}
}

func TestWebSocketHandler(t *testing.T) {
	logger := infrastructure.NewLoggerTo(io.Discard, "error")
	hub := websocket.NewHub(logger)
	hub.Start()
	defer hub.Stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Handle(EventsPath, NewWebSocketHandler(hub, config.Default().WebSocket, logger))
	srv := httptest.NewServer(r)
	defer srv.Close()

	header := http.Header{}
	header.Set(middleware.RequestIDHeader, "req-42")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + EventsPath + "?run_id=run-9"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	read := func() websocket.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg websocket.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	msg := read()
	assert.Equal(t, websocket.TypeConnection, msg.Type)
	assert.Equal(t, "req-42", msg.TraceID)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastProgress("run-9", calibration.ProgressEvent{Kind: calibration.EventStageCompleted, Stage: 1, Stages: 2})
	msg = read()
	assert.Equal(t, websocket.TypeRunStage, msg.Type)
	assert.Equal(t, "run-9", msg.RunID)
}

func TestWebSocketHandler_RejectsPlainHTTP(t *testing.T) {
	logger := infrastructure.NewLoggerTo(io.Discard, "error")
	hub := websocket.NewHub(logger)

	rec := httptest.NewRecorder()
	NewWebSocketHandler(hub, config.Default().WebSocket, logger).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, EventsPath, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, hub.ClientCount())
}
