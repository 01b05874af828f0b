package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"herb-trace/internal/domain/anchoring"
)

// jobQueue es la cola in-process. El mutex hace atómico el claim dentro de
// un proceso; para varios hosts usar el adapter de Postgres.
type jobQueue struct {
	mu   sync.Mutex
	byID map[string]anchoring.Job
}

func NewJobQueue() anchoring.Queue {
	return &jobQueue{byID: make(map[string]anchoring.Job)}
}

func (q *jobQueue) Enqueue(ctx context.Context, j anchoring.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j.ID == "" {
		return false, errors.New("job id required")
	}
	if cur, ok := q.byID[j.ID]; ok && cur.State.Live() {
		return false, nil
	}

	j.State = anchoring.StateWaiting
	j.Attempts = 0
	j.StallCount = 0
	j.LastError = ""
	j.LockedBy = ""
	j.HeartbeatAt = nil
	j.FinishedAt = nil
	q.byID[j.ID] = j
	return true, nil
}

func (q *jobQueue) Claim(ctx context.Context, workerID string, now time.Time) (anchoring.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		best  anchoring.Job
		found bool
	)
	for _, j := range q.byID {
		if j.State != anchoring.StateWaiting || j.RunAt.After(now) {
			continue
		}
		if !found || runsBefore(j, best) {
			best, found = j, true
		}
	}
	if !found {
		return anchoring.Job{}, anchoring.ErrNoJob
	}

	hb := now
	best.State = anchoring.StateActive
	best.LockedBy = workerID
	best.HeartbeatAt = &hb
	q.byID[best.ID] = best
	return best, nil
}

// runsBefore: priority DESC, run_at ASC, enqueued_at ASC, id ASC.
func runsBefore(a, b anchoring.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

// owned devuelve el job si sigue active para workerID. Llamar con mu tomado.
func (q *jobQueue) owned(jobID, workerID string) (anchoring.Job, error) {
	j, ok := q.byID[jobID]
	if !ok || j.State != anchoring.StateActive || j.LockedBy != workerID {
		return anchoring.Job{}, anchoring.ErrJobLost
	}
	return j, nil
}

func (q *jobQueue) Heartbeat(ctx context.Context, jobID, workerID string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(jobID, workerID)
	if err != nil {
		return err
	}
	hb := now
	j.HeartbeatAt = &hb
	q.byID[jobID] = j
	return nil
}

func (q *jobQueue) Complete(ctx context.Context, jobID, workerID string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(jobID, workerID)
	if err != nil {
		return err
	}
	q.byID[jobID] = finish(j, anchoring.StateCompleted, "", now)
	return nil
}

func (q *jobQueue) Retry(ctx context.Context, jobID, workerID, lastErr string, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(jobID, workerID)
	if err != nil {
		return err
	}
	j.Attempts++
	j.State = anchoring.StateWaiting
	j.RunAt = runAt
	j.LastError = lastErr
	j.LockedBy = ""
	j.HeartbeatAt = nil
	q.byID[jobID] = j
	return nil
}

func (q *jobQueue) Fail(ctx context.Context, jobID, workerID, lastErr string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(jobID, workerID)
	if err != nil {
		return err
	}
	j.Attempts++
	q.byID[jobID] = finish(j, anchoring.StateFailed, lastErr, now)
	return nil
}

func (q *jobQueue) Bury(ctx context.Context, jobID, workerID, lastErr string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(jobID, workerID)
	if err != nil {
		return err
	}
	q.byID[jobID] = finish(j, anchoring.StateFailed, lastErr, now)
	return nil
}

func (q *jobQueue) RecoverStalled(ctx context.Context, staleBefore time.Time, maxStalls int, now time.Time) ([]anchoring.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []anchoring.Job
	for id, j := range q.byID {
		if j.State != anchoring.StateActive || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(staleBefore) {
			continue
		}
		j.StallCount++
		if j.StallCount > maxStalls {
			j = finish(j, anchoring.StateFailed, "job stalled more than allowable limit", now)
		} else {
			j.State = anchoring.StateWaiting
			j.RunAt = now
			j.LockedBy = ""
			j.HeartbeatAt = nil
		}
		q.byID[id] = j
		out = append(out, j)
	}
	return out, nil
}

func (q *jobQueue) Get(ctx context.Context, jobID string) (anchoring.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.byID[jobID]
	if !ok {
		return anchoring.Job{}, ErrNotFound
	}
	return j, nil
}

func (q *jobQueue) Stats(ctx context.Context) (map[anchoring.State]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := anchoring.EmptyStats()
	for _, j := range q.byID {
		out[j.State]++
	}
	return out, nil
}

func finish(j anchoring.Job, state anchoring.State, lastErr string, now time.Time) anchoring.Job {
	t := now
	j.State = state
	j.LastError = lastErr
	j.LockedBy = ""
	j.HeartbeatAt = nil
	j.FinishedAt = &t
	return j
}
