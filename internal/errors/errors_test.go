package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad body")
	assert.Equal(t, "bad body", err.Error())
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		status int
		code   string
	}{
		{"invalid request", ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{"validation failed", ErrValidationFailed, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"not found", ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"run not found", ErrRunNotFound, http.StatusNotFound, "RUN_NOT_FOUND"},
		{"rate limit", ErrRateLimitExceeded, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{"internal", ErrInternalServer, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
		{"websocket", ErrWebSocketUpgrade, http.StatusInternalServerError, "WEBSOCKET_UPGRADE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.ErrorCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestDetailHelpers(t *testing.T) {
	t.Run("invalid request carries cause text", func(t *testing.T) {
		err := InvalidRequestWithError(errors.New("unexpected EOF"))
		assert.Equal(t, "unexpected EOF", err.Details)
	})

	t.Run("single validation error", func(t *testing.T) {
		err := ErrValidation("strategy", "must be sequential or joint")
		assert.Equal(t, ValidationError{Field: "strategy", Message: "must be sequential or joint"}, err.Details)
	})

	t.Run("not found names the resource", func(t *testing.T) {
		err := NotFoundError("calibration run")
		assert.Equal(t, "calibration run not found", err.Message)
	})

	t.Run("multiple validation errors", func(t *testing.T) {
		err := NewValidationErrors([]ValidationError{
			{Field: "variables", Message: "required"},
			{Field: "popsize", Message: "min"},
		})
		details, ok := err.Details.(ValidationErrors)
		require.True(t, ok)
		assert.Len(t, details.Errors, 2)
	})
}

func TestAPIError_RenderSetsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	require.NoError(t, render.Render(w, r, ErrRunNotFound))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RUN_NOT_FOUND", body["error_code"])
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusUnprocessableEntity, TypeNumeric, "Unprocessable Entity", "NaN score", "/api/v1/calibrations").
		WithExtension("trace_id", "req-1")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, TypeNumeric, body["type"])
	assert.Equal(t, float64(http.StatusUnprocessableEntity), body["status"])
	assert.Equal(t, "NaN score", body["detail"])
	assert.Equal(t, "req-1", body["trace_id"])
}
