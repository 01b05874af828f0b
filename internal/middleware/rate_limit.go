package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"herb-trace/internal/domain/ratelimit"
	"herb-trace/internal/platform/apperr"
)

// Admitter lo implementa *ratelimit.Governor.
type Admitter interface {
	Admit(ctx context.Context, callerKey string, route ratelimit.Route) ratelimit.Decision
}

// RateLimit aplica la ventana de route. Debe ir después de AuthContext
// para que el caller sea el usuario y no la IP.
func RateLimit(gov Admitter, route ratelimit.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if gov == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := gov.Admit(r.Context(), CallerKey(r), route)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				apperr.WriteError(w, &apperr.RateLimitError{RetryAfter: d.RetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerKey: usuario autenticado si hay, si no la IP (chimw.RealIP ya la resolvió).
func CallerKey(r *http.Request) string {
	if p, ok := GetPrincipal(r.Context()); ok && p.UserID != "" {
		return "user:" + p.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
