// Package audit es el log append-only de transiciones de un evento.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated        Action = "created"
	ActionSynced         Action = "synced"
	ActionSyncFailed     Action = "sync_failed"
	ActionRetryExhausted Action = "retry_exhausted"
	ActionRequeued       Action = "requeued"
	ActionRejected       Action = "rejected"
	ActionStalled        Action = "stalled"
)

// Actores del sistema (los usuarios aparecen con su userId).
const (
	ActorSystem = "system"
	ActorWorker = "anchoring-worker"
	ActorSweep  = "retry-sweep"
	ActorSMS    = "sms-webhook"
)

var ErrInvalidInput = errors.New("invalid audit entry")

// Entry nunca se modifica después de escrita.
type Entry struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Action    Action    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository interface {
	Append(ctx context.Context, e Entry) error
	// ListByEvent en orden cronológico.
	ListByEvent(ctx context.Context, eventID string) ([]Entry, error)
}

// Recorder arma entradas y las persiste.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) Record(ctx context.Context, eventID string, action Action, actor, detail string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" || action == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(actor) == "" {
		actor = ActorSystem
	}
	return r.repo.Append(ctx, Entry{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Action:    action,
		Actor:     actor,
		Detail:    strings.TrimSpace(detail),
		CreatedAt: r.now().UTC(),
	})
}

func (r *Recorder) List(ctx context.Context, eventID string) ([]Entry, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidInput
	}
	return r.repo.ListByEvent(ctx, eventID)
}
