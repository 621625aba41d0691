package infrastructure

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ratecal/internal/config"
	apperrors "ratecal/internal/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOTelInitialization(t *testing.T) {
	var spans bytes.Buffer
	cfg := DefaultOTelConfig()
	cfg.EnableTracing = true
	cfg.TraceWriter = &spans

	providers, err := InitializeOTel(cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, span := otel.Tracer("test").Start(context.Background(), "test-operation")
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceIDFromContext(ctx))
	assert.Equal(t, TraceIDFromContext(ctx), GetTraceID(ctx))
	RecordError(ctx, assert.AnError)
	span.End()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, providers.Shutdown(shutdownCtx))
	assert.Contains(t, spans.String(), "test-operation")
}

func TestOTelConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*OTelConfig)
		wantErr bool
	}{
		{"metrics only", func(c *OTelConfig) {}, false},
		{"everything off", func(c *OTelConfig) { c.EnableMetrics = false }, false},
		{"metric exporter none", func(c *OTelConfig) { c.MetricExporter = "none" }, false},
		{"unknown metric exporter", func(c *OTelConfig) { c.MetricExporter = "otlp" }, true},
		{"unknown trace exporter", func(c *OTelConfig) { c.EnableTracing = true; c.TraceExporter = "jaeger" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultOTelConfig()
			tt.mutate(cfg)
			providers, err := InitializeOTel(cfg, quietLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, providers.Shutdown(context.Background()))
		})
	}
}

func TestOTelConfigFrom(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{ServiceName: "ratecal-test", TracingEnabled: true})
	assert.Equal(t, "ratecal-test", cfg.ServiceName)
	assert.True(t, cfg.EnableTracing)
	assert.False(t, cfg.EnableMetrics)
}

func TestPrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(DefaultOTelConfig(), quietLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RunsSubmitted.Add(ctx, 1)
	RecordActiveRunChange(ctx, metrics, 1, "joint")
	RecordRunMetrics(ctx, metrics, "joint", 2*time.Second, nil)
	RecordRunMetrics(ctx, metrics, "joint", time.Second, apperrors.NewNumericEvaluationError("nan", nil))

	sys, err := NewSystemMetrics(providers.Meter)
	require.NoError(t, err)
	stats := sys.Collect(ctx, time.Now().Add(-time.Minute))
	assert.Positive(t, stats.GoRoutines)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 60.0)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "run_submissions_total")
	assert.Contains(t, body, "run_active")
	assert.Contains(t, body, `error_type="NUMERIC_EVALUATION"`)
	assert.Contains(t, body, "system_goroutines")
	assert.Contains(t, body, "go_goroutines")
}

func TestNilMetricsAreIgnored(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRunMetrics(context.Background(), nil, "sequential", time.Second, assert.AnError)
		RecordActiveRunChange(context.Background(), nil, 1, "sequential")
	})
}

func TestSystemMetricsCollector(t *testing.T) {
	_, err := NewSystemMetricsCollector(nil, 0)
	require.Error(t, err)

	collector, err := NewSystemMetricsCollector(nil, 10*time.Millisecond)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- collector.Start(context.Background()) }()
	time.Sleep(25 * time.Millisecond)
	collector.Stop()
	collector.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	assert.Positive(t, collector.GetCurrentStats(context.Background()).CPUCount)
}
