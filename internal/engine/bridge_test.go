package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitsync/internal/bridge"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/retry"
	"github.com/roach88/habitsync/internal/store"
)

func TestBridge_ResolvesParkedRetry(t *testing.T) {
	f := newFixture(t, []string{"m1"})
	f.deliverer.FailTimes("m1", 1)
	ctx := context.Background()
	f.enqueue(t, "/a", mutation.PriorityHigh)

	require.True(t, f.engine.DrainAll(ctx))
	require.Equal(t, 1, f.sched.Pending())

	sig := bridge.NewChannelSignaler(1)
	w, err := bridge.NewWorker(f.store, f.deliverer, bridge.WorkerOptions{
		Policy:   retry.DefaultPolicy(),
		Signaler: sig,
		Clock:    f.sched,
	})
	require.NoError(t, err)

	batch, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Delivered)

	var statuses []Status
	f.engine.Subscribe(func(st Status) { statuses = append(statuses, st) })
	f.engine.HandleBatchCompleted(ctx, <-sig.C())
	require.Len(t, statuses, 1)
	assert.Zero(t, statuses[0].QueuedCount)

	// The foreground's retry wakes, finds nothing and does not resurrect it.
	f.sched.Advance(time.Second)
	assert.Equal(t, []string{"m1", "m1"}, f.deliverer.AttemptIDs())
	_, err = f.store.Get(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBridge_SharesRetryBudget(t *testing.T) {
	f := newFixture(t, []string{"m1"})
	f.deliverer.AlwaysFail("m1")
	ctx := context.Background()
	f.enqueue(t, "/a", mutation.PriorityHigh)

	w, err := bridge.NewWorker(f.store, f.deliverer, bridge.WorkerOptions{
		Policy: retry.DefaultPolicy(),
		Clock:  f.sched,
	})
	require.NoError(t, err)

	// Two background attempts, then the foreground takes over.
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	require.True(t, f.engine.DrainAll(ctx))
	f.sched.Advance(15 * time.Second)

	assert.Len(t, f.deliverer.Attempts(), retry.DefaultPolicy().Attempts())
	_, err = f.store.Get(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, f.engine.Status(ctx).RecentErrors, 1)
}

func TestBridge_DropSurfacesInForeground(t *testing.T) {
	f := newFixture(t, []string{"m1"})
	f.deliverer.AlwaysFail("m1")
	ctx := context.Background()
	f.enqueue(t, "/habits/9/log", mutation.PriorityLow)

	sig := bridge.NewChannelSignaler(1)
	w, err := bridge.NewWorker(f.store, f.deliverer, bridge.WorkerOptions{
		Policy:   retry.DefaultPolicy(),
		Signaler: sig,
		Clock:    f.sched,
	})
	require.NoError(t, err)

	for i := 0; i < retry.DefaultPolicy().Attempts(); i++ {
		_, err := w.RunOnce(ctx)
		require.NoError(t, err)
	}
	require.Len(t, sig.C(), 1)

	f.engine.HandleBatchCompleted(ctx, <-sig.C())

	st := f.engine.Status(ctx)
	assert.Zero(t, st.QueuedCount)
	require.Len(t, st.RecentErrors, 1)
	assert.Equal(t, "m1", st.RecentErrors[0].MutationID)
	assert.Equal(t, "/habits/9/log", st.RecentErrors[0].Target)
	assert.Contains(t, st.RecentErrors[0].Message, "abandoned after 4 attempts")
	assert.Equal(t, []string{
		"error: Could not sync your change to /habits/9/log after 4 attempts; it was discarded",
	}, f.notices.all())
}

func TestBridge_CountsOnlySignalAddsNoErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.engine.HandleBatchCompleted(ctx, bridge.BatchCompleted{Delivered: 3, At: epoch})

	assert.Empty(t, f.engine.Status(ctx).RecentErrors)
	assert.Empty(t, f.notices.all())
}
