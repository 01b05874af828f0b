package anchoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herb-trace/internal/adapters/ledger/faultledger"
	"herb-trace/internal/adapters/ledger/memledger"
	mem "herb-trace/internal/adapters/storage/memory"
	"herb-trace/internal/domain/anchoring"
	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/ports/ledger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	ctx       context.Context
	clock     *fakeClock
	events    collections.Repository
	queue     anchoring.Queue
	recorder  *audit.Recorder
	scheduler *anchoring.Scheduler
	gateway   ledger.Gateway
	pool      *anchoring.Pool
}

func newHarness(t *testing.T, gw ledger.Gateway, cfg anchoring.PoolConfig) *harness {
	t.Helper()
	h := &harness{
		ctx:     context.Background(),
		clock:   newClock(),
		events:  mem.NewCollectionRepo(),
		queue:   mem.NewJobQueue(),
		gateway: gw,
	}
	h.recorder = audit.NewRecorder(mem.NewAuditRepo()).WithClock(h.clock.Now)
	h.scheduler = anchoring.NewScheduler(h.queue, anchoring.DefaultRetryPolicy).WithClock(h.clock.Now)
	h.pool = anchoring.NewPool(cfg, anchoring.PoolDeps{
		Queue:   h.queue,
		Events:  h.events,
		Gateway: gw,
		Audit:   h.recorder,
	}).WithClock(h.clock.Now)
	return h
}

func (h *harness) seed(t *testing.T, mutate func(*collections.Event)) collections.Event {
	t.Helper()
	lat, lon := 10.5, 76.2
	sub := collections.Submission{
		SubmitterID: "farmer-1",
		Category:    "turmeric",
		Location:    collections.SubmissionGeo{Lat: &lat, Lon: &lon},
		CapturedAt:  "2026-02-10T08:00:00Z",
	}
	ev, err := collections.NewNormalizer(nil).WithClock(h.clock.Now).FromAPI(sub)
	require.NoError(t, err)
	if mutate != nil {
		mutate(&ev)
	}
	require.NoError(t, h.events.Create(h.ctx, ev))
	ok, err := h.scheduler.EnqueueEvent(h.ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return ev
}

func (h *harness) actions(t *testing.T, eventID string) []audit.Action {
	t.Helper()
	entries, err := h.recorder.List(h.ctx, eventID)
	require.NoError(t, err)
	out := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func connected(t *testing.T, gw ledger.Gateway) ledger.Gateway {
	t.Helper()
	require.NoError(t, gw.Connect(context.Background()))
	return gw
}

func TestProcessOne_AnchorsEvent(t *testing.T) {
	ml := memledger.New()
	h := newHarness(t, connected(t, ml), anchoring.PoolConfig{})
	ev := h.seed(t, nil)

	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)
	assert.NotEmpty(t, got.LedgerTxID)
	assert.NotEmpty(t, got.LedgerBlockHash)
	assert.NotNil(t, got.SyncedAt)
	require.NoError(t, got.CheckInvariants())

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateCompleted, job.State)
	assert.Equal(t, []audit.Action{audit.ActionSynced}, h.actions(t, ev.ID))

	info, err := ml.QueryTransaction(h.ctx, got.LedgerTxID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxStatusCommitted, info.Status)

	processed, err = h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	assert.False(t, processed)
}

// Ledger caído en los 3 intentos: job terminal, evento failed con retryCount=3.
// El sweep con max=3 no lo toma; con max=5 sí.
func TestProcessOne_ExhaustsRetriesThenSweep(t *testing.T) {
	fl := faultledger.New(memledger.New()).FailAlways(errors.New("peer unreachable"))
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{})
	ev := h.seed(t, nil)

	start := h.clock.Now()
	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}

	for i := 0; i < 3; i++ {
		processed, err := h.pool.ProcessOne(h.ctx, "w1")
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", i+1)

		job, err := h.queue.Get(h.ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, job.Attempts)
		if i < 2 {
			assert.Equal(t, anchoring.StateWaiting, job.State)
			assert.Equal(t, h.clock.Now().Add(wantDelays[i]), job.RunAt)

			// Antes del backoff no hay nada listo.
			processed, err = h.pool.ProcessOne(h.ctx, "w1")
			require.NoError(t, err)
			assert.False(t, processed)

			h.clock.Advance(wantDelays[i])
		}
	}
	assert.Equal(t, 3, fl.Calls())
	assert.Equal(t, start.Add(15*time.Second), h.clock.Now())

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateFailed, job.State)
	assert.Contains(t, job.LastError, "peer unreachable")

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Empty(t, got.LedgerTxID)

	assert.Equal(t, []audit.Action{
		audit.ActionSyncFailed,
		audit.ActionSyncFailed,
		audit.ActionSyncFailed,
		audit.ActionRetryExhausted,
	}, h.actions(t, ev.ID))

	// Terminal: no se re-encola solo.
	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	assert.False(t, processed)

	sweeper := anchoring.NewSweeper(h.events, h.scheduler, h.recorder, nil)

	res, err := sweeper.RetryFailedSyncs(h.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	assert.Equal(t, 0, res.Requeued)

	res, err = sweeper.RetryFailedSyncs(h.ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, []string{ev.ID}, res.EventIDs)

	job, err = h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateWaiting, job.State)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, anchoring.PriorityLow, job.Priority)
}

func TestProcessOne_RecoversAfterTransientFailure(t *testing.T) {
	fl := faultledger.New(memledger.New(), errors.New("timeout"))
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{})
	ev := h.seed(t, nil)

	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)

	h.clock.Advance(5 * time.Second)
	processed, err = h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.LastError)
	assert.Equal(t, []audit.Action{audit.ActionSyncFailed, audit.ActionSynced}, h.actions(t, ev.ID))
}

func TestProcessOne_SkipsAlreadySynced(t *testing.T) {
	fl := faultledger.New(memledger.New())
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{})
	ev := h.seed(t, func(e *collections.Event) {
		require.NoError(t, e.MarkSynced("tx-prev", "blk-prev", e.CreatedAt))
	})

	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 0, fl.Calls())

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateCompleted, job.State)

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx-prev", got.LedgerTxID)
}

func TestProcessOne_RejectsUnanchorableEvent(t *testing.T) {
	fl := faultledger.New(memledger.New())
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{})
	ev := h.seed(t, func(e *collections.Event) {
		e.Location.Lat = 123
	})

	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 0, fl.Calls())

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateFailed, job.State)
	assert.Equal(t, 0, job.Attempts)

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Contains(t, got.LastError, "rejected")
	assert.Equal(t, []audit.Action{audit.ActionRejected}, h.actions(t, ev.ID))
}

func TestProcessOne_MissingEventIsBuried(t *testing.T) {
	fl := faultledger.New(memledger.New())
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{})

	ok, err := h.scheduler.EnqueueEvent(h.ctx, "ghost")
	require.NoError(t, err)
	require.True(t, ok)

	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)

	job, err := h.queue.Get(h.ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateFailed, job.State)
	assert.Equal(t, "event not found", job.LastError)
}

func TestRecoverStalled(t *testing.T) {
	fl := faultledger.New(memledger.New())
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{StallInterval: 30 * time.Second, MaxStalls: 1})
	ev := h.seed(t, nil)

	// Un worker que murió con el job tomado.
	_, err := h.queue.Claim(h.ctx, "dead-worker", h.clock.Now())
	require.NoError(t, err)

	n, err := h.pool.RecoverStalled(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "heartbeat still fresh")

	h.clock.Advance(31 * time.Second)
	n, err = h.pool.RecoverStalled(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateWaiting, job.State)
	assert.Equal(t, 1, job.StallCount)
	assert.Equal(t, 0, job.Attempts)

	// El dueño original ya no puede cerrar el job.
	assert.ErrorIs(t, h.queue.Complete(h.ctx, ev.ID, "dead-worker", h.clock.Now()), anchoring.ErrJobLost)

	// Segundo stall: supera MaxStalls y queda terminal.
	_, err = h.queue.Claim(h.ctx, "dead-worker-2", h.clock.Now())
	require.NoError(t, err)
	h.clock.Advance(31 * time.Second)
	n, err = h.pool.RecoverStalled(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateFailed, job.State)

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, got.Status)
	assert.Equal(t, "worker stalled", got.LastError)
	assert.Equal(t, []audit.Action{audit.ActionStalled, audit.ActionRetryExhausted}, h.actions(t, ev.ID))
}

func TestPool_StopDrainsActiveJobBeforeDisconnect(t *testing.T) {
	ml := memledger.New()
	fl := faultledger.New(ml).WithDelay(150 * time.Millisecond)

	events := mem.NewCollectionRepo()
	queue := mem.NewJobQueue()
	scheduler := anchoring.NewScheduler(queue, anchoring.DefaultRetryPolicy)
	pool := anchoring.NewPool(anchoring.PoolConfig{Concurrency: 2, PollInterval: 10 * time.Millisecond}, anchoring.PoolDeps{
		Queue:   queue,
		Events:  events,
		Gateway: fl,
	})

	lat, lon := 10.5, 76.2
	ev, err := collections.NewNormalizer(nil).FromAPI(collections.Submission{
		SubmitterID: "farmer-1",
		Category:    "Turmeric",
		Location:    collections.SubmissionGeo{Lat: &lat, Lon: &lon},
		CapturedAt:  "2026-02-10T08:00:00Z",
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, events.Create(ctx, ev))
	_, err = scheduler.EnqueueEvent(ctx, ev.ID)
	require.NoError(t, err)

	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), anchoring.ErrPoolRunning)

	select {
	case <-fl.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("submit never started")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))

	got, err := events.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)
	assert.False(t, ml.Connected())

	job, err := queue.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateCompleted, job.State)
}

func TestProcessOne_SubmitTimeoutCountsAsFailedAttempt(t *testing.T) {
	fl := faultledger.New(memledger.New()).WithDelay(time.Second)
	h := newHarness(t, connected(t, fl), anchoring.PoolConfig{SubmitTimeout: 50 * time.Millisecond})
	ev := h.seed(t, nil)

	processed, err := h.pool.ProcessOne(h.ctx, "w1")
	require.NoError(t, err)
	require.True(t, processed)

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateWaiting, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, context.DeadlineExceeded.Error())

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.LedgerTxID)
	assert.Equal(t, []audit.Action{audit.ActionSyncFailed}, h.actions(t, ev.ID))
}

// gatedLedger bloquea el primer submit hasta release y después lo hace fallar.
type gatedLedger struct {
	ledger.Gateway

	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedLedger(inner ledger.Gateway) *gatedLedger {
	return &gatedLedger{Gateway: inner, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLedger) SubmitTransaction(ctx context.Context, chaincode, function string, args []string) (ledger.SubmitResult, error) {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return g.Gateway.SubmitTransaction(ctx, chaincode, function, args)
	}
	close(g.started)
	<-g.release
	return ledger.SubmitResult{}, errors.New("timeout talking to peer")
}

func TestProcessOne_StaleWorkerCannotOverwriteSyncedEvent(t *testing.T) {
	gl := newGatedLedger(memledger.New())
	h := newHarness(t, connected(t, gl), anchoring.PoolConfig{
		StallInterval:     time.Hour,
		HeartbeatInterval: 50 * time.Minute,
		MaxStalls:         1,
	})
	ev := h.seed(t, nil)

	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = h.pool.ProcessOne(h.ctx, "worker-a")
	}()

	select {
	case <-gl.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker-a never reached the ledger")
	}

	// worker-a deja de latir; el reaper devuelve el job y worker-b lo ancla.
	h.clock.Advance(2 * time.Hour)
	n, err := h.pool.RecoverStalled(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	processed, err := h.pool.ProcessOne(h.ctx, "worker-b")
	require.NoError(t, err)
	require.True(t, processed)

	synced, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, collections.StatusSynced, synced.Status)

	close(gl.release)
	select {
	case <-doneA:
	case <-time.After(2 * time.Second):
		t.Fatal("worker-a never returned")
	}

	got, err := h.events.GetByID(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)
	assert.Equal(t, synced.LedgerTxID, got.LedgerTxID)
	assert.Empty(t, got.LastError)
	assert.Zero(t, got.RetryCount)

	job, err := h.queue.Get(h.ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, anchoring.StateCompleted, job.State)
	assert.Equal(t, []audit.Action{audit.ActionStalled, audit.ActionSynced}, h.actions(t, ev.ID))

	// Nada queda para re-encolar: el sweeper no ve eventos failed.
	res, err := anchoring.NewSweeper(h.events, h.scheduler, h.recorder, nil).RetryFailedSyncs(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
}
