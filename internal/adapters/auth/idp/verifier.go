// Package idp verifica tokens contra un proveedor de identidad externo
// (introspección). Se usa cuando los tokens no son JWT firmados con un
// secreto compartido.
package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"herb-trace/internal/platform/httpclient"
	"herb-trace/internal/ports/auth"
)

var (
	ErrNotConfigured = errors.New("identity provider not configured")
	ErrTokenEmpty    = errors.New("token is empty")
	ErrUnauthorized  = errors.New("identity provider rejected token")
	ErrUpstream      = errors.New("identity provider upstream error")
)

const verifyPath = "/v1/tokens/verify"

type Config struct {
	BaseURL string
	APIKey  string

	// Si está vacío, se usa "X-Api-Key".
	APIKeyHeader string

	Timeout time.Duration

	// Opcional: transport para tests.
	Transport http.RoundTripper
}

type Verifier struct {
	client *httpclient.Client
}

var _ auth.AuthVerifier = (*Verifier)(nil)

func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	c, err := httpclient.NewWithBaseURL(strings.TrimSpace(cfg.BaseURL), cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.Transport != nil {
		c.HTTP.Transport = cfg.Transport
	}
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	c.DefaultHeaders = map[string]string{h: strings.TrimSpace(cfg.APIKey)}
	return &Verifier{client: c}, nil
}

type verifyResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Principal, error) {
	if v == nil || v.client == nil {
		return auth.Principal{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Principal{}, ErrTokenEmpty
	}

	var out verifyResponse
	// Algunos IdP esperan el token en Authorization además del body.
	err := v.client.DoJSON(ctx, http.MethodPost, verifyPath,
		map[string]string{"Authorization": "Bearer " + token},
		map[string]string{"token": token}, &out)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusUnauthorized) || httpclient.IsStatus(err, http.StatusForbidden) {
			return auth.Principal{}, ErrUnauthorized
		}
		return auth.Principal{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	userID := strings.TrimSpace(out.UserID)
	if userID == "" {
		return auth.Principal{}, fmt.Errorf("%w: response missing user_id", ErrUpstream)
	}

	role := auth.RoleCollector
	switch strings.ToLower(strings.TrimSpace(out.Role)) {
	case "", string(auth.RoleCollector):
	case string(auth.RoleAdmin):
		role = auth.RoleAdmin
	default:
		return auth.Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, out.Role)
	}

	return auth.Principal{
		UserID:   userID,
		Email:    strings.TrimSpace(out.Email),
		TenantID: strings.TrimSpace(out.TenantID),
		Role:     role,
	}, nil
}
