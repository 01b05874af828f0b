package anchoring

import (
	"context"
	"strings"
	"time"

	"herb-trace/internal/platform/apperr"
)

// Scheduler es la cara pública de la cola: enqueue(eventId, priority).
type Scheduler struct {
	queue  Queue
	policy RetryPolicy
	now    func() time.Time
}

func NewScheduler(queue Queue, policy RetryPolicy) *Scheduler {
	return &Scheduler{
		queue:  queue,
		policy: policy.normalized(),
		now:    time.Now,
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Enqueue es idempotente: false si ya había un job vivo para el evento.
func (s *Scheduler) Enqueue(ctx context.Context, eventID string, priority int) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, apperr.InvalidInput("eventId", "required")
	}
	now := s.now().UTC()
	p := AnchorEventPayload{EventID: eventID}
	return s.queue.Enqueue(ctx, Job{
		ID:          p.Key(),
		Payload:     p,
		Priority:    priority,
		State:       StateWaiting,
		MaxAttempts: s.policy.MaxAttempts,
		Backoff:     s.policy.Backoff,
		RunAt:       now,
		EnqueuedAt:  now,
	})
}

// EnqueueEvent usa la prioridad por defecto (ingesta).
func (s *Scheduler) EnqueueEvent(ctx context.Context, eventID string) (bool, error) {
	return s.Enqueue(ctx, eventID, PriorityDefault)
}

func (s *Scheduler) Stats(ctx context.Context) (map[State]int, error) {
	return s.queue.Stats(ctx)
}
