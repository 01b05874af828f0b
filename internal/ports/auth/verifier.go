package auth

import "context"

// AuthVerifier es la caja negra authenticate(token) -> principal.
// La emisión de tokens vive fuera de este servicio.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}
