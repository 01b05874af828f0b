package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"herb-trace/internal/domain/ratelimit"
)

var (
	ErrNotFound = errors.New("not found")
)

type counter struct {
	count     int64
	expiresAt time.Time
}

// CounterStore es el store de ventanas fijas para un solo proceso.
type CounterStore struct {
	mu   sync.Mutex
	byK  map[string]counter
	now  func() time.Time
	down bool
}

func NewCounterStore() *CounterStore {
	return &CounterStore{byK: make(map[string]counter), now: time.Now}
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

// WithClock se usa en tests.
func (s *CounterStore) WithClock(now func() time.Time) *CounterStore {
	s.now = now
	return s
}

// SetUnavailable simula una caída del store (tests de fail-open).
func (s *CounterStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return 0, 0, errors.New("counter store unavailable")
	}

	now := s.now()
	c, ok := s.byK[key]
	if !ok || !now.Before(c.expiresAt) {
		// Primer request de la ventana: fija el vencimiento
		c = counter{expiresAt: now.Add(window)}
	}
	c.count++
	s.byK[key] = c

	// Barrido perezoso de ventanas vencidas
	if len(s.byK) > 10000 {
		for k, v := range s.byK {
			if !now.Before(v.expiresAt) {
				delete(s.byK, k)
			}
		}
	}
	return c.count, c.expiresAt.Sub(now), nil
}
