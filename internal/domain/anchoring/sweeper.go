package anchoring

import (
	"context"
	"time"

	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/platform/apperr"
	"herb-trace/internal/platform/logger"
)

// DefaultSweepMaxRetries es el corte de retryCount cuando el operador no manda
// maxRetries. Igual a RETRY_SWEEP_MAX por defecto.
const DefaultSweepMaxRetries = 10

// SweepResult resume una corrida de RetryFailedSyncs.
type SweepResult struct {
	Scanned    int      `json:"scanned"`
	Requeued   int      `json:"requeued"`
	Suppressed int      `json:"suppressed"`
	EventIDs   []string `json:"eventIds"`
}

// Sweeper re-encola eventos failed con prioridad baja. Es el camino
// "reintentar todo" del operador, aparte del backoff propio de cada job.
type Sweeper struct {
	events    collections.Repository
	scheduler *Scheduler
	audit     collections.AuditRecorder
	log       logger.Logger
}

func NewSweeper(events collections.Repository, scheduler *Scheduler, rec collections.AuditRecorder, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		events:    events,
		scheduler: scheduler,
		audit:     rec,
		log:       log.With(map[string]any{"component": "retry-sweep"}),
	}
}

// RetryFailedSyncs: status=failed AND retryCount < maxRetries.
// Procesa hasta collections.MaxListLimit eventos por llamada.
func (s *Sweeper) RetryFailedSyncs(ctx context.Context, maxRetries int) (SweepResult, error) {
	if maxRetries <= 0 {
		return SweepResult{}, apperr.InvalidRange("maxRetries", "must be > 0")
	}

	below := maxRetries
	failed, err := s.events.List(ctx, collections.ListFilter{
		Statuses:        []collections.Status{collections.StatusFailed},
		RetryCountBelow: &below,
		Limit:           collections.MaxListLimit,
	})
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Scanned: len(failed), EventIDs: []string{}}
	for _, ev := range failed {
		ok, err := s.scheduler.Enqueue(ctx, ev.ID, PriorityLow)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Suppressed++
			continue
		}
		res.Requeued++
		res.EventIDs = append(res.EventIDs, ev.ID)
		if s.audit != nil {
			if err := s.audit.Record(ctx, ev.ID, audit.ActionRequeued, audit.ActorSweep, "low priority"); err != nil {
				s.log.Warn("audit append failed", map[string]any{"eventId": ev.ID, "error": err})
			}
		}
	}

	s.log.Info("retry sweep finished", map[string]any{
		"maxRetries": maxRetries,
		"scanned":    res.Scanned,
		"requeued":   res.Requeued,
		"suppressed": res.Suppressed,
	})
	return res, nil
}

// Run corre el sweep cada interval hasta que ctx se cancele.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, maxRetries int) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.RetryFailedSyncs(ctx, maxRetries); err != nil && ctx.Err() == nil {
				s.log.Warn("scheduled retry sweep failed", map[string]any{"error": err})
			}
		}
	}
}
