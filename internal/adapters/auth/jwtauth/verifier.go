// Package jwtauth implementa auth.AuthVerifier con JWT HS256.
// La emisión de tokens vive en el proveedor de identidad; acá solo se verifica.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"herb-trace/internal/ports/auth"
)

var (
	ErrNotConfigured = errors.New("jwt verifier not configured")
	ErrTokenEmpty    = errors.New("token is empty")
	ErrMissingSub    = errors.New("token subject is required")
	ErrUnknownRole   = errors.New("token role is not recognized")
)

// Claims que esperamos en el token.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
}

type Config struct {
	Secret string
	// Opcional: si viene, se exige en el claim iss.
	Issuer string
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(cfg Config) *Verifier {
	return &Verifier{
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		issuer: strings.TrimSpace(cfg.Issuer),
	}
}

func (v *Verifier) IsConfigured() bool {
	return v != nil && len(v.secret) > 0
}

var _ auth.AuthVerifier = (*Verifier)(nil)

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Principal, error) {
	if !v.IsConfigured() {
		return auth.Principal{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Principal{}, ErrTokenEmpty
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return auth.Principal{}, errors.New("invalid token")
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return auth.Principal{}, ErrMissingSub
	}

	role := auth.RoleCollector
	switch strings.ToLower(strings.TrimSpace(claims.Role)) {
	case "", string(auth.RoleCollector):
	case string(auth.RoleAdmin):
		role = auth.RoleAdmin
	default:
		return auth.Principal{}, ErrUnknownRole
	}

	return auth.Principal{
		UserID:   sub,
		Email:    strings.TrimSpace(claims.Email),
		TenantID: strings.TrimSpace(claims.TenantID),
		Role:     role,
	}, nil
}
