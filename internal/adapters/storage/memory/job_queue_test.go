package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "herb-trace/internal/adapters/storage/memory"
	"herb-trace/internal/domain/anchoring"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func job(id string, priority int, runAt time.Time) anchoring.Job {
	return anchoring.Job{
		ID:          id,
		Payload:     anchoring.AnchorEventPayload{EventID: id},
		Priority:    priority,
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
		RunAt:       runAt,
		EnqueuedAt:  runAt,
	}
}

func TestJobQueue_EnqueueSuppressesLiveJobs(t *testing.T) {
	ctx := context.Background()
	q := mem.NewJobQueue()

	ok, err := q.Enqueue(ctx, job("ev-1", anchoring.PriorityDefault, t0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(ctx, job("ev-1", anchoring.PriorityHigh, t0))
	require.NoError(t, err)
	assert.False(t, ok, "waiting job suppresses")

	_, err = q.Claim(ctx, "w1", t0)
	require.NoError(t, err)
	ok, err = q.Enqueue(ctx, job("ev-1", anchoring.PriorityHigh, t0))
	require.NoError(t, err)
	assert.False(t, ok, "active job suppresses")

	require.NoError(t, q.Complete(ctx, "ev-1", "w1", t0))
	ok, err = q.Enqueue(ctx, job("ev-1", anchoring.PriorityLow, t0))
	require.NoError(t, err)
	assert.True(t, ok, "terminal job is replaced")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[anchoring.StateWaiting])
	assert.Equal(t, 0, stats[anchoring.StateCompleted])
}

func TestJobQueue_ClaimOrder(t *testing.T) {
	ctx := context.Background()
	q := mem.NewJobQueue()

	for _, j := range []anchoring.Job{
		job("low", anchoring.PriorityLow, t0.Add(-time.Hour)),
		job("default-late", anchoring.PriorityDefault, t0.Add(-time.Minute)),
		job("default-early", anchoring.PriorityDefault, t0.Add(-2*time.Minute)),
		job("future", anchoring.PriorityHigh, t0.Add(time.Minute)),
	} {
		_, err := q.Enqueue(ctx, j)
		require.NoError(t, err)
	}

	var order []string
	for {
		j, err := q.Claim(ctx, "w1", t0)
		if err == anchoring.ErrNoJob {
			break
		}
		require.NoError(t, err)
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{"default-early", "default-late", "low"}, order)
}

func TestJobQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	q := mem.NewJobQueue()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := q.Enqueue(ctx, job(id, anchoring.PriorityDefault, t0))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Claim(ctx, "w", t0)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 5)
	for id, n := range claimed {
		assert.Equal(t, 1, n, id)
	}
}

func TestJobQueue_RetryAndFailCountAttempts(t *testing.T) {
	ctx := context.Background()
	q := mem.NewJobQueue()
	_, err := q.Enqueue(ctx, job("ev-1", anchoring.PriorityDefault, t0))
	require.NoError(t, err)

	_, err = q.Claim(ctx, "w1", t0)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Retry(ctx, "ev-1", "w2", "x", t0), anchoring.ErrJobLost)
	require.NoError(t, q.Retry(ctx, "ev-1", "w1", "boom", t0.Add(5*time.Second)))

	_, err = q.Claim(ctx, "w1", t0)
	assert.ErrorIs(t, err, anchoring.ErrNoJob, "not ready before backoff")

	_, err = q.Claim(ctx, "w1", t0.Add(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, "ev-1", "w1", "boom", t0.Add(6*time.Second)))

	j, err := q.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateFailed, j.State)
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, "boom", j.LastError)
	require.NotNil(t, j.FinishedAt)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, mem.ErrNotFound)
}
