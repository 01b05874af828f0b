// Package anchoring contiene la cola durable de jobs de anclaje, el pool de
// workers que los envía al ledger y el sweep de reintentos.
package anchoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func AllStates() []State {
	return []State{StateWaiting, StateActive, StateCompleted, StateFailed}
}

// Live: un job waiting/active suprime un enqueue nuevo del mismo id.
func (s State) Live() bool {
	return s == StateWaiting || s == StateActive
}

// Prioridad: mayor corre primero.
const (
	PriorityHigh    = 10
	PriorityDefault = 5
	PriorityLow     = 1
)

type Kind string

const KindAnchorEvent Kind = "anchor_event"

var ErrUnknownKind = errors.New("unknown job kind")

// Payload es un tipo suma cerrado; hoy solo existe AnchorEventPayload.
type Payload interface {
	Kind() Kind
	// Key es la identidad del job (dedup).
	Key() string
	isPayload()
}

type AnchorEventPayload struct {
	EventID string `json:"eventId"`
}

func (AnchorEventPayload) Kind() Kind    { return KindAnchorEvent }
func (p AnchorEventPayload) Key() string { return p.EventID }
func (AnchorEventPayload) isPayload()    {}

func EncodePayload(p Payload) (Kind, []byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", nil, err
	}
	return p.Kind(), raw, nil
}

func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindAnchorEvent:
		var p AnchorEventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Job es un pedido de anclaje. ID == Payload.Key().
type Job struct {
	ID       string
	Payload  Payload
	Priority int
	State    State

	// Attempts cuenta fallas consumidas (no claims). Un stall no consume.
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration

	RunAt      time.Time
	LastError  string
	StallCount int

	LockedBy    string
	HeartbeatAt *time.Time

	EnqueuedAt time.Time
	FinishedAt *time.Time
}

// Exhausted: true si la próxima falla deja el job terminal.
func (j Job) Exhausted() bool {
	return j.Attempts+1 >= j.MaxAttempts
}
