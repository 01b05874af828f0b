package middleware

import (
	"context"
	"net/http"
	"strings"

	"herb-trace/internal/platform/apperr"
	"herb-trace/internal/ports/auth"
)

type ctxKey string

const principalKey ctxKey = "principal"

const (
	HeaderDebugUserID = "X-Debug-User-ID"
	HeaderDebugRole   = "X-Debug-Role"
)

// AuthContext:
// - Si verifier != nil y viene Bearer token => intenta Verify() y setea el principal.
// - Si verifier == nil => modo dev: X-Debug-User-ID (+ X-Debug-Role opcional).
// - Si no hay principal, el request sigue igual; los handlers decidirán si exigen auth.
func AuthContext(verifier auth.AuthVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Dev mode: permitir inyectar user sin verifier
			if verifier == nil {
				if uid := strings.TrimSpace(r.Header.Get(HeaderDebugUserID)); uid != "" {
					p := auth.Principal{UserID: uid, Role: auth.RoleCollector}
					if role := strings.TrimSpace(r.Header.Get(HeaderDebugRole)); role != "" {
						p.Role = auth.Role(strings.ToLower(role))
					}
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
					return
				}

				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := verifier.Verify(r.Context(), token)
			if err != nil {
				// No cortamos aquí. El handler decide 401/403.
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(ctx context.Context) (auth.Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

// RequirePrincipal devuelve ErrUnauthorized si no hay usuario en el contexto.
func RequirePrincipal(ctx context.Context) (auth.Principal, error) {
	p, ok := GetPrincipal(ctx)
	if !ok || strings.TrimSpace(p.UserID) == "" {
		return auth.Principal{}, apperr.ErrUnauthorized
	}
	return p, nil
}

// RequireAdmin: 401 sin principal, 403 si no es admin.
func RequireAdmin(ctx context.Context) (auth.Principal, error) {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return auth.Principal{}, err
	}
	if !p.IsAdmin() {
		return auth.Principal{}, apperr.ErrForbidden
	}
	return p, nil
}

func BearerToken(authHeader string) string {
	if strings.TrimSpace(authHeader) == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
