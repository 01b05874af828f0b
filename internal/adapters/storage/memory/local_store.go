package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"herb-trace/internal/collector"
	"herb-trace/internal/domain/collections"
)

// LocalStore es el store del dispositivo sin archivo (tests, --ephemeral).
type LocalStore struct {
	mu   sync.RWMutex
	byID map[string]collections.Event
}

func NewLocalStore() *LocalStore {
	return &LocalStore{byID: make(map[string]collections.Event)}
}

var _ collector.LocalStore = (*LocalStore)(nil)

func (s *LocalStore) Save(ctx context.Context, ev collections.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[ev.ID] = cloneEvent(ev)
	return nil
}

func (s *LocalStore) Get(ctx context.Context, eventID string) (collections.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.byID[strings.TrimSpace(eventID)]
	if !ok {
		return collections.Event{}, collector.ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (s *LocalStore) List(ctx context.Context, statuses ...collections.Status) ([]collections.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]collections.Event, 0, len(s.byID))
	for _, ev := range s.byID {
		if len(statuses) > 0 && !hasStatus(statuses, ev.Status) {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func hasStatus(list []collections.Status, s collections.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
