package collections

import (
	"errors"
	"strings"
	"time"

	"herb-trace/internal/domain/sms"
	"herb-trace/internal/platform/apperr"
)

var (
	// ErrAlreadySynced: synced es terminal, no se vuelve a uploading.
	ErrAlreadySynced = errors.New("event already synced")
	ErrMissingTxID   = errors.New("synced event requires a ledger tx id")
)

type Location struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AccuracyM *float64 `json:"accuracyM,omitempty"`
}

// MediaRef referencia un archivo (foto) por hash de contenido + ubicación.
type MediaRef struct {
	Hash string `json:"hash"`
	URL  string `json:"url,omitempty"`
}

// Source describe por dónde entró el evento.
type Source struct {
	Channel     Channel    `json:"channel"`
	SenderPhone string     `json:"senderPhone,omitempty"`
	GatewayID   string     `json:"gatewayId,omitempty"`
	MessageID   string     `json:"messageId,omitempty"`
	ReceivedAt  *time.Time `json:"receivedAt,omitempty"`
}

// Event es el registro canónico de procedencia.
// Lo mutan solo la máquina de sync del dispositivo (copia local)
// y el pool de anclaje (copia del servidor).
type Event struct {
	ID string `json:"eventId"`

	SubmitterID string     `json:"submitterId"`
	Category    string     `json:"category"`
	Location    Location   `json:"location"`
	CapturedAt  time.Time  `json:"capturedAt"`
	MoisturePct *float64   `json:"moisturePct,omitempty"`
	Media       []MediaRef `json:"media,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Source      Source     `json:"source"`

	IsValidLocation bool `json:"isValidLocation"`
	IsValidSeason   bool `json:"isValidSeason"`
	QualityScore    int  `json:"qualityScore"`

	Status          Status `json:"status"`
	LedgerTxID      string `json:"ledgerTxId,omitempty"`
	LedgerBlockHash string `json:"ledgerBlockHash,omitempty"`
	LastError       string `json:"lastError,omitempty"`
	RetryCount      int    `json:"retryCount"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
}

// MarkUploading: pending|failed|uploading -> uploading.
func (e *Event) MarkUploading(now time.Time) error {
	if e.Status == StatusSynced {
		return ErrAlreadySynced
	}
	e.Status = StatusUploading
	e.UpdatedAt = now
	return nil
}

// MarkSynced guarda la referencia del ledger. txID es obligatorio.
func (e *Event) MarkSynced(txID, blockHash string, now time.Time) error {
	if strings.TrimSpace(txID) == "" {
		return ErrMissingTxID
	}
	e.Status = StatusSynced
	e.LedgerTxID = txID
	e.LedgerBlockHash = blockHash
	e.LastError = ""
	e.UpdatedAt = now
	t := now
	e.SyncedAt = &t
	return nil
}

// MarkFailed registra un intento fallido (consume un retry).
func (e *Event) MarkFailed(reason string, now time.Time) {
	e.markFailed(reason, now)
	e.RetryCount++
}

// MarkFailedWithoutRetry: failed sin consumir retries (validación al anclar, enqueue caído, stall).
func (e *Event) MarkFailedWithoutRetry(reason string, now time.Time) {
	e.markFailed(reason, now)
}

func (e *Event) markFailed(reason string, now time.Time) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	e.Status = StatusFailed
	e.LastError = reason
	e.LedgerTxID = ""
	e.LedgerBlockHash = ""
	e.SyncedAt = nil
	e.UpdatedAt = now
}

// CheckInvariants: synced => txID; failed => lastError.
func (e Event) CheckInvariants() error {
	if !e.Status.Valid() {
		return apperr.InvalidInput("status", "unknown status "+string(e.Status))
	}
	if e.Status == StatusSynced && e.LedgerTxID == "" {
		return ErrMissingTxID
	}
	if e.Status == StatusFailed && e.LastError == "" {
		return apperr.InvalidInput("lastError", "failed event requires lastError")
	}
	if e.RetryCount < 0 {
		return apperr.InvalidInput("retryCount", "negative")
	}
	return nil
}

// CheckAnchorable revalida lo mínimo antes de mandar al ledger.
// Un error acá es terminal: no consume reintentos del ledger.
func (e Event) CheckAnchorable() error {
	if strings.TrimSpace(e.ID) == "" {
		return apperr.InvalidInput("eventId", "required")
	}
	if strings.TrimSpace(e.SubmitterID) == "" {
		return apperr.InvalidInput("submitterId", "required")
	}
	if strings.TrimSpace(e.Category) == "" {
		return apperr.InvalidInput("category", "required")
	}
	if e.CapturedAt.IsZero() {
		return apperr.InvalidInput("capturedAt", "required")
	}
	return sms.CheckCoordinates(e.Location.Lat, e.Location.Lon)
}
