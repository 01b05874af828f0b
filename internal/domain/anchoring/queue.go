package anchoring

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoJob: no hay jobs listos para correr.
	ErrNoJob = errors.New("no job ready")
	// ErrJobLost: el job ya no está active para este worker (stall + reclaim).
	ErrJobLost = errors.New("job no longer owned by worker")
)

// Queue es el store compartido de jobs. Claim debe ser atómico a nivel
// store: dos workers (aunque estén en hosts distintos) nunca toman el mismo job.
type Queue interface {
	// Enqueue devuelve false si ya hay un job waiting/active con el mismo ID.
	// Un job completed/failed se reemplaza con intentos en cero.
	Enqueue(ctx context.Context, j Job) (bool, error)

	// Claim toma el waiting listo de mayor prioridad (y run_at más viejo)
	// y lo pasa a active. ErrNoJob si no hay.
	Claim(ctx context.Context, workerID string, now time.Time) (Job, error)

	Heartbeat(ctx context.Context, jobID, workerID string, now time.Time) error
	Complete(ctx context.Context, jobID, workerID string, now time.Time) error

	// Retry consume un intento y vuelve a waiting con run_at.
	Retry(ctx context.Context, jobID, workerID, lastErr string, runAt time.Time) error
	// Fail consume un intento y deja el job terminal.
	Fail(ctx context.Context, jobID, workerID, lastErr string, now time.Time) error
	// Bury deja el job terminal sin consumir intentos.
	Bury(ctx context.Context, jobID, workerID, lastErr string, now time.Time) error

	// RecoverStalled: active con heartbeat < staleBefore vuelve a waiting
	// (stall_count++) o queda failed si supera maxStalls.
	RecoverStalled(ctx context.Context, staleBefore time.Time, maxStalls int, now time.Time) ([]Job, error)

	Get(ctx context.Context, jobID string) (Job, error)
	Stats(ctx context.Context) (map[State]int, error)
}

// RetryPolicy: backoff exponencial base·2^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

const maxBackoff = time.Hour

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Second}

// Delay para la n-ésima falla (n >= 1): 5s, 10s, 20s...
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := p.Backoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryPolicy.Backoff
	}
	return p
}

// EmptyStats devuelve todos los estados en cero.
func EmptyStats() map[State]int {
	out := make(map[State]int, len(AllStates()))
	for _, s := range AllStates() {
		out[s] = 0
	}
	return out
}
