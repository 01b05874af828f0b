// Package apperr define la taxonomía de errores del pipeline de ingesta/anclaje
// y cómo se traducen a HTTP.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

type Code string

const (
	CodeInvalidFormat Code = "InvalidFormat"
	CodeInvalidRange  Code = "InvalidRange"
	CodeInvalidInput  Code = "InvalidInput"
)

// ValidationError: input mal formado. Nunca se reintenta; vuelve al caller.
type ValidationError struct {
	Code   Code
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Reason)
}

func InvalidFormat(field, reason string) error {
	return &ValidationError{Code: CodeInvalidFormat, Field: field, Reason: reason}
}

func InvalidRange(field, reason string) error {
	return &ValidationError{Code: CodeInvalidRange, Field: field, Reason: reason}
}

func InvalidInput(field, reason string) error {
	return &ValidationError{Code: CodeInvalidInput, Field: field, Reason: reason}
}

// RateLimitError: el caller debe esperar RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// TransientLedgerError: red/ledger no disponible (o timeout). Se reintenta según backoff.
type TransientLedgerError struct {
	Op  string
	Err error
}

func (e *TransientLedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransientLedgerError) Unwrap() error { return e.Err }

// TerminalAnchoringError: presupuesto de intentos agotado (o evento no anclable).
// El evento queda failed hasta un retry explícito.
type TerminalAnchoringError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *TerminalAnchoringError) Error() string {
	return fmt.Sprintf("anchoring of event %s failed terminally after %d attempt(s): %v", e.EventID, e.Attempts, e.Err)
}

func (e *TerminalAnchoringError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsTransientLedger(err error) bool {
	var te *TransientLedgerError
	return errors.As(err, &te)
}

// StatusCode mapea un error a su status HTTP.
func StatusCode(err error) int {
	var (
		ve *ValidationError
		re *RateLimitError
		te *TransientLedgerError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &re):
		return http.StatusTooManyRequests
	case errors.As(err, &te):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Code       Code   `json:"code,omitempty"`
	Field      string `json:"field,omitempty"`
}

// WriteError responde {"error":{"message","statusCode"}}.
// Los 500 no filtran el mensaje interno.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)

	body := envelopeBody{StatusCode: status, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		body.Code = ve.Code
		body.Field = ve.Field
	}

	var re *RateLimitError
	if errors.As(err, &re) {
		secs := int(re.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: body})
}
