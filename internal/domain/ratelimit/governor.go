// Package ratelimit implementa el governor de ventana fija por (caller, ruta).
package ratelimit

import (
	"context"
	"time"

	"herb-trace/internal/platform/logger"
)

type Route string

const (
	RouteAPI  Route = "api"
	RouteAuth Route = "auth"
	RouteSMS  Route = "sms"
)

type Policy struct {
	Max    int64
	Window time.Duration
}

type Policies map[Route]Policy

// DefaultPolicies: auth y sms son más estrictas que la API general.
func DefaultPolicies() Policies {
	return Policies{
		RouteAPI:  {Max: 100, Window: 15 * time.Minute},
		RouteAuth: {Max: 10, Window: 15 * time.Minute},
		RouteSMS:  {Max: 20, Window: time.Minute},
	}
}

// CounterStore incrementa atómicamente. El primer incremento de una ventana
// fija el TTL en window; devuelve el conteo y el TTL restante.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen: el store no respondió y se admitió igual.
	FailOpen bool
}

type Governor struct {
	store    CounterStore
	policies Policies
	log      logger.Logger
	now      func() time.Time
}

func NewGovernor(store CounterStore, policies Policies, log logger.Logger) *Governor {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Governor{
		store:    store,
		policies: policies,
		log:      log.With(map[string]any{"component": "rate-governor"}),
		now:      time.Now,
	}
}

// WithClock se usa en tests.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

func (g *Governor) Policy(route Route) Policy {
	if p, ok := g.policies[route]; ok {
		return p
	}
	return g.policies[RouteAPI]
}

// Admit nunca devuelve error: si el store no responde, admite (fail-open) y lo loguea.
func (g *Governor) Admit(ctx context.Context, callerKey string, route Route) Decision {
	p := g.Policy(route)
	now := g.now()

	count, ttl, err := g.store.Increment(ctx, Key(callerKey, route), p.Window)
	if err != nil {
		g.log.Warn("counter store unavailable, admitting request (fail-open)", map[string]any{
			"callerKey": callerKey,
			"route":     string(route),
			"error":     err,
		})
		return Decision{
			Allowed:   true,
			Limit:     p.Max,
			Remaining: p.Max,
			ResetAt:   now.Add(p.Window),
			FailOpen:  true,
		}
	}

	if ttl <= 0 || ttl > p.Window {
		ttl = p.Window
	}
	d := Decision{
		Limit:   p.Max,
		ResetAt: now.Add(ttl),
	}
	if count > p.Max {
		d.RetryAfter = ttl
		return d
	}
	d.Allowed = true
	d.Remaining = p.Max - count
	return d
}

func Key(callerKey string, route Route) string {
	return "rl:" + string(route) + ":" + callerKey
}
