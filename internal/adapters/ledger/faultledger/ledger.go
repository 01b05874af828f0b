// Package faultledger envuelve un Gateway e inyecta fallas en un orden fijo.
// Se usa en tests del pool para reproducir secuencias de error exactas.
package faultledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"herb-trace/internal/ports/ledger"
)

var ErrInjected = errors.New("injected ledger fault")

type Ledger struct {
	inner ledger.Gateway

	mu      sync.Mutex
	faults  []error
	always  error
	delay   time.Duration
	calls   int
	started chan struct{}
}

// New: cada SubmitTransaction consume el próximo fault; nil deja pasar al inner.
// Agotada la secuencia, todas las llamadas pasan.
func New(inner ledger.Gateway, faults ...error) *Ledger {
	return &Ledger{inner: inner, faults: faults, started: make(chan struct{}, 64)}
}

// FailAlways hace fallar todos los submits con err.
func (l *Ledger) FailAlways(err error) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	l.always = err
	return l
}

// WithDelay demora cada submit; respeta la cancelación del ctx.
func (l *Ledger) WithDelay(d time.Duration) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
	return l
}

// Started recibe una señal al comienzo de cada submit.
func (l *Ledger) Started() <-chan struct{} {
	return l.started
}

func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var _ ledger.Gateway = (*Ledger)(nil)

func (l *Ledger) Connect(ctx context.Context) error {
	return l.inner.Connect(ctx)
}

func (l *Ledger) Disconnect(ctx context.Context) error {
	return l.inner.Disconnect(ctx)
}

func (l *Ledger) QueryTransaction(ctx context.Context, txID string) (ledger.TxInfo, error) {
	return l.inner.QueryTransaction(ctx, txID)
}

func (l *Ledger) SubmitTransaction(ctx context.Context, chaincode, function string, args []string) (ledger.SubmitResult, error) {
	l.mu.Lock()
	l.calls++
	fault := l.always
	if fault == nil && len(l.faults) > 0 {
		fault = l.faults[0]
		l.faults = l.faults[1:]
	}
	delay := l.delay
	l.mu.Unlock()

	select {
	case l.started <- struct{}{}:
	default:
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ledger.SubmitResult{}, ctx.Err()
		case <-t.C:
		}
	}
	if fault != nil {
		return ledger.SubmitResult{}, fault
	}
	return l.inner.SubmitTransaction(ctx, chaincode, function, args)
}
