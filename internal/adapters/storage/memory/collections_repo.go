package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"herb-trace/internal/domain/collections"
)

type collectionRepo struct {
	mu   sync.RWMutex
	byID map[string]collections.Event
}

func NewCollectionRepo() collections.Repository {
	return &collectionRepo{
		byID: make(map[string]collections.Event),
	}
}

func (r *collectionRepo) Create(ctx context.Context, e collections.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		return errors.New("event id required")
	}
	if _, exists := r.byID[e.ID]; exists {
		return collections.ErrAlreadyExists
	}

	r.byID[e.ID] = cloneEvent(e)
	return nil
}

func (r *collectionRepo) Update(ctx context.Context, e collections.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[e.ID]
	if !ok {
		return collections.ErrNotFound
	}
	if cur.Status == collections.StatusSynced {
		return collections.ErrAlreadySynced
	}
	r.byID[e.ID] = cloneEvent(e)
	return nil
}

func (r *collectionRepo) GetByID(ctx context.Context, id string) (collections.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return collections.Event{}, collections.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (r *collectionRepo) List(ctx context.Context, filter collections.ListFilter) ([]collections.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]collections.Event, 0)
	for _, e := range r.byID {
		if filter.Matches(e) {
			out = append(out, cloneEvent(e))
		}
	}

	// Orden por created_at asc (más viejo primero), igual que Postgres
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *collectionRepo) CountByStatus(ctx context.Context) (map[collections.Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[collections.Status]int)
	for _, e := range r.byID {
		out[e.Status]++
	}
	return out, nil
}

// cloneEvent evita compartir slices/punteros con el caller.
func cloneEvent(e collections.Event) collections.Event {
	if e.Media != nil {
		e.Media = append([]collections.MediaRef(nil), e.Media...)
	}
	e.MoisturePct = cloneFloat(e.MoisturePct)
	e.Location.AccuracyM = cloneFloat(e.Location.AccuracyM)
	if e.SyncedAt != nil {
		t := *e.SyncedAt
		e.SyncedAt = &t
	}
	return e
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
