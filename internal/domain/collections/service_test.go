package collections_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "herb-trace/internal/adapters/storage/memory"
	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/platform/apperr"
)

type fakeQueue struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (q *fakeQueue) EnqueueEvent(ctx context.Context, eventID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, eventID)
	if q.err != nil {
		return false, q.err
	}
	return true, nil
}

type fixture struct {
	svc      *collections.Service
	repo     collections.Repository
	queue    *fakeQueue
	recorder *audit.Recorder
}

func newFixture() *fixture {
	fx := &fixture{
		repo:     mem.NewCollectionRepo(),
		queue:    &fakeQueue{},
		recorder: audit.NewRecorder(mem.NewAuditRepo()),
	}
	fx.svc = collections.NewService(fx.repo, nil, fx.queue, fx.recorder, nil)
	return fx
}

func (fx *fixture) actions(t *testing.T, id string) []audit.Action {
	t.Helper()
	entries, err := fx.recorder.List(context.Background(), id)
	require.NoError(t, err)
	var out []audit.Action
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestSubmit_CreatesAndEnqueues(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	out, err := fx.svc.Submit(ctx, "farmer-1", validSubmission())
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, collections.StatusPending, out.Event.Status)
	assert.Equal(t, []string{out.Event.ID}, fx.queue.calls)

	stored, err := fx.svc.GetByID(ctx, out.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Event.ID, stored.ID)
	assert.Equal(t, []audit.Action{audit.ActionCreated}, fx.actions(t, out.Event.ID))
}

func TestSubmit_ReplayOfSyncedEventReturnsOriginal(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sub := validSubmission()
	sub.EventID = "0b6c3e2a-5f55-4b7e-9a35-1b2c3d4e5f60"
	first, err := fx.svc.Submit(ctx, "farmer-1", sub)
	require.NoError(t, err)

	// El pool lo ancló entre medio.
	ev := first.Event
	require.NoError(t, ev.MarkSynced("tx-original", "blk-1", ev.CreatedAt))
	require.NoError(t, fx.repo.Update(ctx, ev))

	again, err := fx.svc.Submit(ctx, "farmer-1", sub)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, collections.StatusSynced, again.Event.Status)
	assert.Equal(t, "tx-original", again.Event.LedgerTxID)
	assert.Len(t, fx.queue.calls, 1, "replay must not enqueue")
	assert.Equal(t, []audit.Action{audit.ActionCreated}, fx.actions(t, ev.ID))
}

func TestSubmit_ReplayFromOtherSubmitterConflicts(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sub := validSubmission()
	sub.EventID = "0b6c3e2a-5f55-4b7e-9a35-1b2c3d4e5f60"
	_, err := fx.svc.Submit(ctx, "farmer-1", sub)
	require.NoError(t, err)

	sub.SubmitterID = "farmer-2"
	_, err = fx.svc.Submit(ctx, "farmer-2", sub)
	assert.ErrorIs(t, err, collections.ErrSubmitterMismatch)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestSubmit_EnqueueFailureLeavesEventFailed(t *testing.T) {
	fx := newFixture()
	fx.queue.err = errors.New("queue store down")
	ctx := context.Background()

	out, err := fx.svc.Submit(ctx, "farmer-1", validSubmission())
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, out.Event.Status)
	assert.Equal(t, 0, out.Event.RetryCount)
	assert.Contains(t, out.Event.LastError, "queue store down")

	stored, err := fx.repo.GetByID(ctx, out.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, collections.StatusFailed, stored.Status)
	assert.Equal(t, []audit.Action{audit.ActionCreated, audit.ActionSyncFailed}, fx.actions(t, out.Event.ID))
}

func TestSubmit_ValidationErrorStoresNothing(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sub := validSubmission()
	sub.Location.Lon = f(181)
	_, err := fx.svc.Submit(ctx, "farmer-1", sub)

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Empty(t, fx.queue.calls)

	counts, err := fx.repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestSubmitSMS_CarrierRetryIsReplayed(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	text := "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|12.5|"
	meta := collections.SMSMeta{From: "+919800000001", GatewayID: "gw-1", MessageID: "m-1"}

	first, err := fx.svc.SubmitSMS(ctx, text, meta)
	require.NoError(t, err)
	second, err := fx.svc.SubmitSMS(ctx, text, meta)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Len(t, fx.queue.calls, 1)

	entries, err := fx.recorder.List(ctx, first.Event.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActorSMS, entries[0].Actor)
}

func TestGetByID_NotFound(t *testing.T) {
	fx := newFixture()
	_, err := fx.svc.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 404, apperr.StatusCode(err))
}
