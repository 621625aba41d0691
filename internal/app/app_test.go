package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/config"
	"ratecal/internal/exporter"
	"ratecal/internal/infrastructure"
	api "ratecal/pkg/contracts/api/v1"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.Server.RateLimit.Enabled = false
	cfg.Server.ShutdownTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	app, err := New(cfg, WithLogger(infrastructure.NewLoggerTo(io.Discard, "error")), WithBaseDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	return app
}

func TestNew(t *testing.T) {
	app := newTestApp(t, nil)

	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.Calibration)
	assert.NotNil(t, app.HealthService)
	assert.NotNil(t, app.WebSocketHub)
	assert.Equal(t, ":8080", app.Server.Addr)
	assert.DirExists(t, app.Paths.ReportsDir)
	assert.DirExists(t, app.Paths.LogsDir)
}

func TestRoutes(t *testing.T) {
	app := newTestApp(t, nil)
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"readiness", http.MethodGet, "/readyz", http.StatusOK},
		{"liveness", http.MethodGet, "/livez", http.StatusOK},
		{"version", http.MethodGet, "/version", http.StatusOK},
		{"schema", http.MethodGet, "/api/v1/schema/calibration-request", http.StatusOK},
		{"stats", http.MethodGet, "/api/v1/stats", http.StatusOK},
		{"run list", http.MethodGet, "/api/v1/calibrations", http.StatusOK},
		{"unknown run", http.MethodGet, "/api/v1/calibrations/nope", http.StatusNotFound},
		{"prometheus", http.MethodGet, "/metrics", http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/healthz", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	app := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRoutes_RateLimit(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		statuses = append(statuses, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, statuses)
}

func TestCalibrationEndToEnd(t *testing.T) {
	app := newTestApp(t, nil)
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	body := `{
		"source": "e2e",
		"rows": [
			{"region": "X", "tier": "A", "actual": 110, "expected": 100},
			{"region": "Y", "tier": "A", "actual": 90, "expected": 100},
			{"region": "Y", "tier": "B", "actual": 95, "expected": 100},
			{"region": "X", "tier": "B", "actual": 105, "expected": 100}
		],
		"dataset": {"rating_variables": ["region", "tier"], "actual_field": "actual", "expected_field": "expected", "mode": "sequential"},
		"credibility": {"enabled": false},
		"optimizer": {"strategy": "neldermead", "max_iterations": 200, "seed": 1},
		"export": true
	}`
	resp, err := http.Post(srv.URL+"/api/v1/calibrations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted api.RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, resp.Header.Get("Location"), submitted.Links.Self)

	var run api.RunResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + submitted.Links.Self)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
			return false
		}
		return run.Status == "completed" || run.Status == "failed"
	}, 30*time.Second, 50*time.Millisecond)

	require.Equal(t, "completed", run.Status, "run error: %+v", run.Error)
	require.NotNil(t, run.Result)
	assert.Len(t, run.Result.Stages, 2)
	assert.Len(t, run.Result.Factors, 2)
	assert.LessOrEqual(t, run.Result.EndingDeviation, run.Result.StartingDeviation)
	require.NotEmpty(t, run.Reports)

	report, err := http.Get(srv.URL + submitted.Links.Self + "/reports/" + exporter.FactorsFile)
	require.NoError(t, err)
	defer report.Body.Close()
	assert.Equal(t, http.StatusOK, report.StatusCode)
}

func TestWebSocketRoute(t *testing.T) {
	app := newTestApp(t, nil)
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?run_id=abc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"connection"`)
	assert.Eventually(t, func() bool { return app.WebSocketHub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	app := newTestApp(t, nil)
	app.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Zero(t, app.WebSocketHub.ClientCount())
}
