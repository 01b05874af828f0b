package router

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"herb-trace/internal/middleware"
	"herb-trace/internal/platform/apperr"
	"herb-trace/internal/ports/auth"
)

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type principalResponse struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email,omitempty"`
	TenantID string    `json:"tenantId,omitempty"`
	Role     auth.Role `json:"role"`
}

// verifyTokenHandler godoc
// @Summary Verificar un token
// @Description authenticate(token) -> principal. El token va en el body o en Authorization. En modo dev devuelve el principal de X-Debug-User-ID.
// @Tags auth
// @Accept json
// @Produce json
// @Param Authorization header string false "Bearer token"
// @Param payload body verifyTokenRequest false "Token"
// @Success 200 {object} principalResponse
// @Failure 401 {object} map[string]any "unauthorized"
// @Failure 429 {object} map[string]any "rate limit"
// @Router /auth/verify [post]
func verifyTokenHandler(verifier auth.AuthVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier == nil {
			p, err := middleware.RequirePrincipal(r.Context())
			if err != nil {
				apperr.WriteError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toPrincipalResponse(p))
			return
		}

		var req verifyTokenRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			apperr.WriteError(w, apperr.InvalidFormat("body", "invalid json"))
			return
		}
		token := strings.TrimSpace(req.Token)
		if token == "" {
			token = middleware.BearerToken(r.Header.Get("Authorization"))
		}
		if token == "" {
			apperr.WriteError(w, apperr.ErrUnauthorized)
			return
		}

		p, err := verifier.Verify(r.Context(), token)
		if err != nil {
			apperr.WriteError(w, apperr.ErrUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, toPrincipalResponse(p))
	}
}

func toPrincipalResponse(p auth.Principal) principalResponse {
	return principalResponse{UserID: p.UserID, Email: p.Email, TenantID: p.TenantID, Role: p.Role}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
