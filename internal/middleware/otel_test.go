package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ratecal/internal/infrastructure"
)

func TestOTelMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMiddleware(provider.Tracer("test"), nil, infrastructure.NewLoggerTo(io.Discard, "error"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	tests := []struct {
		path     string
		wantName string
		wantCode codes.Code
	}{
		{"/runs/abc", "GET /runs/{id}", codes.Unset},
		{"/broken", "GET /broken", codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			spans := recorder.Ended()
			require.NotEmpty(t, spans)
			span := spans[len(spans)-1]
			assert.Equal(t, tt.wantName, span.Name())
			assert.Equal(t, tt.wantCode, span.Status().Code)
		})
	}
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"forwarded for", "X-Forwarded-For", "10.0.0.1", "10.0.0.1"},
		{"real ip", "X-Real-IP", "10.0.0.2", "10.0.0.2"},
		{"remote addr", "", "", "192.0.2.1:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, GetRealIP(req))
		})
	}
}
