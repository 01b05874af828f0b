package collections

import (
	"context"
	"fmt"

	"herb-trace/internal/platform/apperr"
)

var (
	ErrNotFound      = fmt.Errorf("event %w", apperr.ErrNotFound)
	ErrAlreadyExists = fmt.Errorf("event already exists: %w", apperr.ErrConflict)
)

// Repository es el store CRUD de eventos (Postgres o memoria).
type Repository interface {
	// Create devuelve ErrAlreadyExists si el eventId ya existe.
	Create(ctx context.Context, e Event) error
	// Update devuelve ErrNotFound si no existe y ErrAlreadySynced si la fila
	// guardada ya está synced (synced es terminal).
	Update(ctx context.Context, e Event) error
	GetByID(ctx context.Context, id string) (Event, error)
	List(ctx context.Context, filter ListFilter) ([]Event, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type ListFilter struct {
	Statuses    []Status
	SubmitterID string

	// RetryCountBelow: nil = sin filtro; si no, retry_count < *RetryCountBelow.
	RetryCountBelow *int

	Limit int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Matches evalúa el filtro en memoria (adapters memory y tests).
func (f ListFilter) Matches(e Event) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SubmitterID != "" && e.SubmitterID != f.SubmitterID {
		return false
	}
	if f.RetryCountBelow != nil && e.RetryCount >= *f.RetryCountBelow {
		return false
	}
	return true
}
