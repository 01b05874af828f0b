package memory

import (
	"context"
	"sync"

	"herb-trace/internal/domain/audit"
)

// auditRepo es append-only: no hay Update ni Delete.
type auditRepo struct {
	mu      sync.RWMutex
	byEvent map[string][]audit.Entry
}

func NewAuditRepo() audit.Repository {
	return &auditRepo{byEvent: make(map[string][]audit.Entry)}
}

func (r *auditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byEvent[e.EventID] = append(r.byEvent[e.EventID], e)
	return nil
}

func (r *auditRepo) ListByEvent(ctx context.Context, eventID string) ([]audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byEvent[eventID]
	out := make([]audit.Entry, len(entries))
	copy(out, entries)
	return out, nil
}
