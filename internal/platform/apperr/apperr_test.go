package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode_Taxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", InvalidFormat("coordinates", "bad"), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("sms: %w", InvalidRange("latitude", "out of range")), http.StatusBadRequest},
		{"rate limit", &RateLimitError{RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{"ledger", &TransientLedgerError{Op: "submit", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"not found", fmt.Errorf("event: %w", ErrNotFound), http.StatusNotFound},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"conflict", fmt.Errorf("event id: %w", ErrConflict), http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusCode(tc.err))
		})
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, InvalidFormat("coordinates", "expected lat,lon"))

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Message    string `json:"message"`
			StatusCode int    `json:"statusCode"`
			Code       string `json:"code"`
			Field      string `json:"field"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 400, body.Error.StatusCode)
	assert.Equal(t, "InvalidFormat", body.Error.Code)
	assert.Equal(t, "coordinates", body.Error.Field)
	assert.Contains(t, body.Error.Message, "expected lat,lon")
}

func TestWriteError_RateLimitSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &RateLimitError{RetryAfter: 90 * time.Second})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestWriteError_HidesInternalMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestTerminalAnchoringError_Unwraps(t *testing.T) {
	cause := &TransientLedgerError{Op: "submit", Err: errors.New("timeout")}
	err := &TerminalAnchoringError{EventID: "ev-1", Attempts: 3, Err: cause}

	assert.True(t, IsTransientLedger(err))
	assert.Contains(t, err.Error(), "ev-1")
	assert.Contains(t, err.Error(), "3 attempt")
}
