package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/habitsync/internal/clock"
	"github.com/roach88/habitsync/internal/delivery"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/retry"
	"github.com/roach88/habitsync/internal/store"
)

// DefaultInterval is the pause between background batches.
const DefaultInterval = 30 * time.Second

// Store is the subset of the durable queue the worker needs.
type Store interface {
	List(ctx context.Context) ([]mutation.QueuedMutation, error)
	Update(ctx context.Context, m mutation.QueuedMutation) error
	Remove(ctx context.Context, id string) error
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Policy must match the foreground engine's ceiling.
	Policy   retry.Policy
	Interval time.Duration
	Signaler Signaler
	Clock    clock.Scheduler
}

// Worker drains the store in batches. Each batch attempts every stored
// item once, oldest first; the interval between batches stands in for
// backoff.
type Worker struct {
	store     Store
	deliverer delivery.Deliverer
	policy    retry.Policy
	interval  time.Duration
	signaler  Signaler
	clock     clock.Scheduler
}

// NewWorker creates a worker over s that delivers through d.
func NewWorker(s Store, d delivery.Deliverer, opts WorkerOptions) (*Worker, error) {
	if s == nil || d == nil {
		return nil, errors.New("bridge worker requires a store and a deliverer")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("bridge worker: %w", err)
	}

	w := &Worker{
		store:     s,
		deliverer: d,
		policy:    opts.Policy,
		interval:  opts.Interval,
		signaler:  opts.Signaler,
		clock:     opts.Clock,
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.signaler == nil {
		w.signaler = NopSignaler{}
	}
	if w.clock == nil {
		w.clock = clock.System{}
	}
	return w, nil
}

// RunOnce attempts every stored item once and signals the foreground if
// anything was resolved. Delivery failures are absorbed into the counts;
// only a failure to list the store is returned.
func (w *Worker) RunOnce(ctx context.Context) (BatchCompleted, error) {
	items, err := w.store.List(ctx)
	if err != nil {
		return BatchCompleted{}, fmt.Errorf("bridge list: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
		}
		return items[i].ID < items[j].ID
	})

	var batch BatchCompleted
	for _, m := range items {
		if ctx.Err() != nil {
			break
		}
		w.attempt(ctx, m, &batch)
	}
	batch.At = w.clock.Now().UTC()

	slog.Info("bridge batch finished",
		"listed", len(items),
		"delivered", batch.Delivered,
		"retried", batch.Retried,
		"dropped", batch.Dropped,
	)
	if batch.Resolved() {
		w.signaler.Signal(ctx, batch)
	}
	return batch, nil
}

func (w *Worker) attempt(ctx context.Context, m mutation.QueuedMutation, batch *BatchCompleted) {
	err := w.deliverer.Deliver(ctx, m)
	if err != nil && ctx.Err() != nil {
		// Interrupted by our own shutdown, not a delivery failure.
		slog.Debug("bridge delivery interrupted", "id", m.ID, "error", err)
		return
	}
	if err == nil {
		if err := w.store.Remove(ctx, m.ID); err != nil {
			slog.Warn("bridge remove failed", "id", m.ID, "error", err)
		}
		batch.Delivered++
		return
	}

	d := w.policy.Decide(m.RetryCount)
	if d.Terminal {
		if rerr := w.store.Remove(ctx, m.ID); rerr != nil {
			slog.Error("bridge remove dropped mutation failed", "id", m.ID, "error", rerr)
			return
		}
		tf := retry.NewTerminalFailure(m, err)
		batch.Dropped++
		batch.Failures = append(batch.Failures, BatchFailure{
			MutationID: tf.MutationID,
			Target:     tf.Target,
			Kind:       tf.Kind,
			Attempts:   tf.Attempts,
			Message:    tf.Error(),
			At:         w.clock.Now().UTC(),
		})
		slog.Error("bridge dropped mutation",
			"id", m.ID,
			"target", m.Target,
			"attempts", tf.Attempts,
			"error", err,
		)
		return
	}

	next := m.Clone()
	next.RetryCount = d.NextRetryCount
	if uerr := w.store.Update(ctx, next); uerr != nil {
		if errors.Is(uerr, store.ErrNotFound) {
			slog.Debug("bridge: mutation resolved elsewhere", "id", m.ID)
			return
		}
		slog.Warn("bridge persist retry count failed", "id", m.ID, "error", uerr)
	}
	batch.Retried++
	slog.Warn("bridge delivery failed",
		"id", m.ID,
		"target", m.Target,
		"retry_count", next.RetryCount,
		"error", err,
	)
}

// Run executes a batch immediately and then every interval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("bridge worker starting", "interval", w.interval, "retry_ceiling", w.policy.Ceiling)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			slog.Error("bridge batch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("bridge worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
