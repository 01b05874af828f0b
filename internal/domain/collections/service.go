package collections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"herb-trace/internal/domain/audit"
	"herb-trace/internal/platform/apperr"
	"herb-trace/internal/platform/logger"
)

var ErrSubmitterMismatch = fmt.Errorf("eventId belongs to another submitter: %w", apperr.ErrConflict)

// Enqueuer lo implementa anchoring.Scheduler. Se define acá para no
// importar anchoring (anchoring ya importa collections).
type Enqueuer interface {
	EnqueueEvent(ctx context.Context, eventID string) (bool, error)
}

// AuditRecorder lo implementa *audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, eventID string, action audit.Action, actor, detail string) error
}

// Outcome: Replayed=true cuando el eventId ya existía; no se encola nada.
type Outcome struct {
	Event    Event
	Replayed bool
}

type Service struct {
	repo       Repository
	normalizer *Normalizer
	queue      Enqueuer
	audit      AuditRecorder
	log        logger.Logger
	now        func() time.Time
}

func NewService(repo Repository, normalizer *Normalizer, queue Enqueuer, rec AuditRecorder, log logger.Logger) *Service {
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:       repo,
		normalizer: normalizer,
		queue:      queue,
		audit:      rec,
		log:        log.With(map[string]any{"component": "collections"}),
		now:        time.Now,
	}
}

// Submit ingesta por API. actor es el userId autenticado.
func (s *Service) Submit(ctx context.Context, actor string, in Submission) (Outcome, error) {
	ev, err := s.normalizer.FromAPI(in)
	if err != nil {
		return Outcome{}, err
	}
	return s.ingest(ctx, ev, actor)
}

// SubmitSMS ingesta por el webhook del gateway SMS.
func (s *Service) SubmitSMS(ctx context.Context, text string, meta SMSMeta) (Outcome, error) {
	ev, err := s.normalizer.FromSMS(text, meta)
	if err != nil {
		return Outcome{}, err
	}
	return s.ingest(ctx, ev, audit.ActorSMS)
}

func (s *Service) GetByID(ctx context.Context, id string) (Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, apperr.InvalidInput("eventId", "required")
	}
	return s.repo.GetByID(ctx, id)
}

// ingest: un eventId ya conocido devuelve el resultado existente (replay),
// sin crear otro job ni otra transacción en el ledger.
func (s *Service) ingest(ctx context.Context, ev Event, actor string) (Outcome, error) {
	if out, ok, err := s.replay(ctx, ev); err != nil || ok {
		return out, err
	}

	if err := s.repo.Create(ctx, ev); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// carrera con otro request del mismo eventId
			out, _, rerr := s.replay(ctx, ev)
			return out, rerr
		}
		return Outcome{}, err
	}
	s.record(ctx, ev.ID, audit.ActionCreated, actor, fmt.Sprintf("channel=%s qualityScore=%d", ev.Source.Channel, ev.QualityScore))

	if s.queue == nil {
		return Outcome{Event: ev}, nil
	}
	if _, err := s.queue.EnqueueEvent(ctx, ev.ID); err != nil {
		// El evento ya está aceptado: queda failed sin consumir intentos
		// y el sweep de reintentos lo vuelve a encolar.
		s.log.Warn("enqueue failed, event left for retry sweep", map[string]any{
			"eventId": ev.ID,
			"error":   err,
		})
		ev.MarkFailedWithoutRetry("enqueue: "+err.Error(), s.now().UTC())
		if uerr := s.repo.Update(ctx, ev); uerr != nil {
			return Outcome{}, uerr
		}
		s.record(ctx, ev.ID, audit.ActionSyncFailed, audit.ActorSystem, ev.LastError)
	}
	return Outcome{Event: ev}, nil
}

func (s *Service) replay(ctx context.Context, ev Event) (Outcome, bool, error) {
	existing, err := s.repo.GetByID(ctx, ev.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, err
	}
	if existing.SubmitterID != ev.SubmitterID {
		return Outcome{}, true, ErrSubmitterMismatch
	}
	return Outcome{Event: existing, Replayed: true}, true, nil
}

func (s *Service) record(ctx context.Context, eventID string, action audit.Action, actor, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, eventID, action, actor, detail); err != nil {
		s.log.Warn("audit append failed", map[string]any{"eventId": eventID, "action": string(action), "error": err})
	}
}
