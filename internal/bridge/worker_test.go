package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitsync/internal/delivery"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/retry"
	"github.com/roach88/habitsync/internal/store"
	"github.com/roach88/habitsync/internal/testutil"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, id string, p mutation.Priority, at time.Time, retryCount int) {
	t.Helper()
	req, err := mutation.Request{Target: "/" + id, Priority: p}.Normalize()
	require.NoError(t, err)
	m := req.Build(id, at)
	m.RetryCount = retryCount
	require.NoError(t, s.Enqueue(context.Background(), m))
}

func newWorker(t *testing.T, s Store, d delivery.Deliverer, sig Signaler) *Worker {
	t.Helper()
	w, err := NewWorker(s, d, WorkerOptions{
		Policy:   retry.DefaultPolicy(),
		Signaler: sig,
		Clock:    testutil.NewFakeScheduler(epoch),
	})
	require.NoError(t, err)
	return w
}

func TestNewWorker_Validation(t *testing.T) {
	s := setupTestStore(t)
	d := delivery.DeliverFunc(func(context.Context, mutation.QueuedMutation) error { return nil })

	_, err := NewWorker(nil, d, WorkerOptions{Policy: retry.DefaultPolicy()})
	assert.Error(t, err)

	_, err = NewWorker(s, d, WorkerOptions{Policy: retry.Policy{Ceiling: 2}})
	assert.Error(t, err, "ceiling without delays is rejected")
}

func TestRunOnce_DeliversOldestFirst(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, "b", mutation.PriorityHigh, epoch.Add(time.Second), 0)
	seed(t, s, "a", mutation.PriorityLow, epoch, 0)

	sched := testutil.NewFakeScheduler(epoch)
	d := testutil.NewScriptedDeliverer(sched)
	sig := NewChannelSignaler(1)
	w := newWorker(t, s, d, sig)

	batch, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, d.AttemptIDs())
	assert.Equal(t, 2, batch.Delivered)
	assert.True(t, batch.At.Equal(epoch))

	select {
	case got := <-sig.C():
		assert.Equal(t, batch, got)
	default:
		t.Fatal("expected a batch signal")
	}

	items, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRunOnce_HonorsSharedCeiling(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, "x", mutation.PriorityMedium, epoch, 0)

	d := testutil.NewScriptedDeliverer(testutil.NewFakeScheduler(epoch)).AlwaysFail("x")
	sig := NewChannelSignaler(4)
	w := newWorker(t, s, d, sig)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		batch, err := w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, batch.Retried)

		got, err := s.Get(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, i+1, got.RetryCount)
	}
	assert.Len(t, sig.C(), 0, "retries alone do not signal")

	batch, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Dropped)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "x", batch.Failures[0].MutationID)
	assert.Equal(t, "/x", batch.Failures[0].Target)
	assert.Equal(t, 4, batch.Failures[0].Attempts)
	assert.Contains(t, batch.Failures[0].Message, "abandoned after 4 attempts")
	require.Len(t, sig.C(), 1)
	assert.Equal(t, batch.Failures, (<-sig.C()).Failures)

	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, d.Attempts(), 4)
}

func TestRunOnce_ForegroundRetriesCountTowardCeiling(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, "x", mutation.PriorityMedium, epoch, retry.DefaultCeiling)

	d := testutil.NewScriptedDeliverer(testutil.NewFakeScheduler(epoch)).AlwaysFail("x")
	w := newWorker(t, s, d, nil)

	batch, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Dropped)
	assert.Len(t, d.Attempts(), 1)
}

func TestRunOnce_NeverResurrects(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, "x", mutation.PriorityMedium, epoch, 0)
	ctx := context.Background()

	// The foreground resolves the item while the bridge's attempt is in flight.
	d := delivery.DeliverFunc(func(ctx context.Context, m mutation.QueuedMutation) error {
		require.NoError(t, s.Remove(ctx, m.ID))
		return errors.New("connection reset")
	})
	w := newWorker(t, s, d, nil)

	batch, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, batch.Retried)

	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOnce_RemoveAfterForegroundRemoveIsNoop(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, "x", mutation.PriorityMedium, epoch, 0)
	ctx := context.Background()

	d := delivery.DeliverFunc(func(ctx context.Context, m mutation.QueuedMutation) error {
		return s.Remove(ctx, m.ID)
	})
	w := newWorker(t, s, d, nil)

	batch, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Delivered)
	require.NoError(t, s.Remove(ctx, "x"))
}

func TestRunOnce_InterruptedAttemptIsNotAFailure(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, "x", mutation.PriorityMedium, epoch, retry.DefaultCeiling)
	ctx, cancel := context.WithCancel(context.Background())

	d := delivery.DeliverFunc(func(ctx context.Context, m mutation.QueuedMutation) error {
		cancel()
		return ctx.Err()
	})
	sig := NewChannelSignaler(1)
	w := newWorker(t, s, d, sig)

	batch, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, batch.Dropped)
	assert.Zero(t, batch.Retried)
	assert.Empty(t, batch.Failures)
	assert.Len(t, sig.C(), 0)

	got, err := s.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, retry.DefaultCeiling, got.RetryCount)
}

func TestRunOnce_ListFailure(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Close())

	w := newWorker(t, s, delivery.DeliverFunc(func(context.Context, mutation.QueuedMutation) error { return nil }), nil)
	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := setupTestStore(t)
	w, err := NewWorker(s, delivery.DeliverFunc(func(context.Context, mutation.QueuedMutation) error { return nil }),
		WorkerOptions{Policy: retry.DefaultPolicy(), Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
