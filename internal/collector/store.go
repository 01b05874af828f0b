package collector

import (
	"context"
	"errors"

	"herb-trace/internal/domain/collections"
)

var ErrNotFound = errors.New("local event not found")

// PendingAnchor marca un evento aceptado por el servidor que todavía no
// tiene tx en el ledger. RefreshAnchors lo reemplaza por la tx real.
const PendingAnchor = "pending-anchor"

// LocalStore es el almacenamiento durable del dispositivo. Capture escribe
// acá antes de cualquier intento de red.
type LocalStore interface {
	// Save inserta o reemplaza por eventId.
	Save(ctx context.Context, ev collections.Event) error
	Get(ctx context.Context, eventID string) (collections.Event, error)
	// List en orden de captura; sin statuses devuelve todo.
	List(ctx context.Context, statuses ...collections.Status) ([]collections.Event, error)
}
