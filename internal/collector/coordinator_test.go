package collector_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "herb-trace/internal/adapters/storage/memory"
	"herb-trace/internal/collector"
	"herb-trace/internal/domain/collections"
)

type fakePusher struct {
	mu      sync.Mutex
	pushed  []string
	faults  []error
	result  collector.PushResult
	remote  map[string]collections.Event
	gate    chan struct{}
	started chan string
}

func newFakePusher() *fakePusher {
	return &fakePusher{remote: map[string]collections.Event{}, started: make(chan string, 16)}
}

func (p *fakePusher) Push(ctx context.Context, ev collections.Event) (collector.PushResult, error) {
	p.mu.Lock()
	p.pushed = append(p.pushed, ev.ID)
	var fault error
	if len(p.faults) > 0 {
		fault, p.faults = p.faults[0], p.faults[1:]
	}
	gate := p.gate
	res := p.result
	p.mu.Unlock()

	p.started <- ev.ID
	if gate != nil {
		<-gate
	}
	if fault != nil {
		return collector.PushResult{}, fault
	}
	res.EventID = ev.ID
	res.Status = collections.StatusPending
	return res, nil
}

func (p *fakePusher) Fetch(ctx context.Context, eventID string) (collections.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.remote[eventID]
	if !ok {
		return collections.Event{}, errors.New("not found")
	}
	return ev, nil
}

func (p *fakePusher) pushes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pushed...)
}

func f(v float64) *float64 { return &v }

func submission() collections.Submission {
	return collections.Submission{
		SubmitterID: "farmer-1",
		Category:    "Turmeric",
		Location:    collections.SubmissionGeo{Lat: f(11.0168), Lon: f(76.9558)},
		CapturedAt:  "2026-02-10T10:00:00Z",
		MoisturePct: f(12.5),
	}
}

func setup(online bool) (*collector.Coordinator, *mem.LocalStore, *fakePusher, *collector.StaticConnectivity) {
	store := mem.NewLocalStore()
	pusher := newFakePusher()
	conn := collector.NewStaticConnectivity(online)
	c := collector.New(collector.Options{Store: store, Pusher: pusher, Connectivity: conn})
	return c, store, pusher, conn
}

func TestCapture_OfflineKeepsEventPending(t *testing.T) {
	ctx := context.Background()
	c, store, pusher, conn := setup(false)

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	assert.Equal(t, collections.StatusPending, ev.Status)
	assert.Equal(t, 80, ev.QualityScore)
	assert.Empty(t, pusher.pushes())

	rep, err := c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, collector.SkipOffline, rep.Skipped)

	conn.Set(true)
	rep, err = c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, collector.SyncReport{Attempted: 1, Synced: 1}, rep)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)
	assert.Equal(t, collector.PendingAnchor, got.LedgerTxID)
	assert.Equal(t, []string{ev.ID}, pusher.pushes())
}

func TestCapture_OnlinePushesImmediately(t *testing.T) {
	ctx := context.Background()
	c, _, pusher, _ := setup(true)
	pusher.result = collector.PushResult{LedgerTxID: "tx-1", LedgerBlockHash: "blk-1"}

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, ev.Status)
	assert.Equal(t, "tx-1", ev.LedgerTxID)

	// Synced es terminal: otro ciclo no lo reenvía.
	rep, err := c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Attempted)
	assert.Len(t, pusher.pushes(), 1)
}

func TestCapture_RejectsInvalidInputWithoutSaving(t *testing.T) {
	ctx := context.Background()
	c, store, _, _ := setup(true)

	sub := submission()
	sub.Location.Lat = f(95)
	_, err := c.Capture(ctx, sub)
	require.Error(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPushFailure_MarksFailedThenRecovers(t *testing.T) {
	ctx := context.Background()
	c, store, pusher, _ := setup(true)
	pusher.faults = []error{errors.New("connection reset")}

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, ev.Status)
	assert.Equal(t, 1, ev.RetryCount)
	assert.Contains(t, ev.LastError, "connection reset")

	rep, err := c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Synced)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)
	assert.Empty(t, got.LastError)
}

func TestSyncOnce_ResubmitsOrphanedUploading(t *testing.T) {
	ctx := context.Background()
	c, store, pusher, conn := setup(false)

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	// Crash a mitad de push: quedó uploading en disco.
	require.NoError(t, ev.MarkUploading(time.Now().UTC()))
	require.NoError(t, store.Save(ctx, ev))

	conn.Set(true)
	rep, err := c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Synced)
	assert.Equal(t, []string{ev.ID}, pusher.pushes())
}

func TestSyncOnce_SingleFlight(t *testing.T) {
	ctx := context.Background()
	c, _, pusher, conn := setup(false)
	pusher.gate = make(chan struct{})

	_, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	conn.Set(true)

	done := make(chan collector.SyncReport, 1)
	go func() {
		rep, _ := c.SyncOnce(ctx)
		done <- rep
	}()
	<-pusher.started

	rep, err := c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, collector.SkipInProgress, rep.Skipped)

	// Otro coordinator tiene su propio estado.
	other, _, _, _ := setup(true)
	rep, err = other.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Skipped)

	close(pusher.gate)
	first := <-done
	assert.Equal(t, 1, first.Synced)
}

func TestSyncOnce_GoingOfflineDoesNotAbortInFlightPush(t *testing.T) {
	ctx := context.Background()
	c, store, pusher, conn := setup(false)
	pusher.gate = make(chan struct{})

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	conn.Set(true)

	done := make(chan collector.SyncReport, 1)
	go func() {
		rep, _ := c.SyncOnce(ctx)
		done <- rep
	}()
	<-pusher.started

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusUploading, got.Status)

	conn.Set(false)
	close(pusher.gate)
	rep := <-done
	assert.Equal(t, 1, rep.Synced)

	got, err = store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)

	// El siguiente ciclo ya no arranca.
	rep, err = c.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, collector.SkipOffline, rep.Skipped)
}

func TestRetryEvent(t *testing.T) {
	ctx := context.Background()
	c, _, pusher, conn := setup(true)
	pusher.faults = []error{errors.New("timeout")}

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	require.Equal(t, collections.StatusFailed, ev.Status)

	conn.Set(false)
	_, err = c.RetryEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, collector.ErrOffline)

	conn.Set(true)
	got, err := c.RetryEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusSynced, got.Status)

	_, err = c.RetryEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, collector.ErrNotRetry)

	_, err = c.RetryEvent(ctx, "missing")
	assert.ErrorIs(t, err, collector.ErrNotFound)
}

func TestRefreshAnchors(t *testing.T) {
	ctx := context.Background()
	c, store, pusher, _ := setup(true)

	ev, err := c.Capture(ctx, submission())
	require.NoError(t, err)
	require.Equal(t, collector.PendingAnchor, ev.LedgerTxID)

	n, err := c.RefreshAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "server has no copy yet")

	pusher.remote[ev.ID] = collections.Event{ID: ev.ID, Status: collections.StatusSynced, LedgerTxID: "tx-real", LedgerBlockHash: "blk-9"}
	n, err = c.RefreshAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx-real", got.LedgerTxID)
	assert.Equal(t, "blk-9", got.LedgerBlockHash)
}
