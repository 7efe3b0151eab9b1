package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/habitsync/internal/bridge"
	"github.com/roach88/habitsync/internal/clock"
	"github.com/roach88/habitsync/internal/delivery"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/retry"
	"github.com/roach88/habitsync/internal/store"
)

// Queue is the durable store the engine drains. *store.Store implements it.
type Queue interface {
	Enqueue(ctx context.Context, m mutation.QueuedMutation) error
	List(ctx context.Context) ([]mutation.QueuedMutation, error)
	Update(ctx context.Context, m mutation.QueuedMutation) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// Engine coordinates enqueue, drain and retry for the offline queue.
//
// Thread-safety model:
//   - Enqueue, DrainAll, RequestDrain, SetOnline, Clear: safe from any goroutine
//   - at most one drain runs at a time; a drain requested while another is
//     active returns false immediately
//   - a retry that comes due, or an enqueue, during an active drain is
//     folded into that drain as an extra pass
//
// Failed items stay in the store with an incremented RetryCount and are
// parked in memory until their backoff expires. Parked items are skipped by
// drain passes; when the backoff timer fires the engine runs a fresh pass,
// so a due retry re-joins the priority order instead of jumping it.
type Engine struct {
	queue     Queue
	deliverer delivery.Deliverer
	hub       *Hub
	cfg       config

	mu       sync.Mutex
	draining bool
	rerun    bool
	started  bool
	stopped  bool
	parked   map[string]time.Time
	timers   map[string]clock.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an Engine over q that delivers through d.
func New(q Queue, d delivery.Deliverer, opts ...Option) (*Engine, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if d == nil {
		return nil, ErrNilDeliverer
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.policy.Validate(); err != nil {
		return nil, fmt.Errorf("sync engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		queue:     q,
		deliverer: d,
		cfg:       cfg,
		parked:    make(map[string]time.Time),
		timers:    make(map[string]clock.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}
	e.hub = NewHub(q.Count, cfg.online)
	return e, nil
}

// Start binds the engine's background work (enqueue-triggered drains and
// retry wakes) to ctx and publishes the initial status. It does not drain;
// callers that want to flush leftovers from a previous run call DrainAll.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrShutdown
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	slog.Info("sync engine starting",
		"online", e.hub.Online(),
		"retry_ceiling", e.cfg.policy.Ceiling,
	)
	e.notify(ctx)
	return nil
}

// Shutdown stops retry timers, refuses new work and waits for an in-flight
// drain to finish its current attempt. If ctx expires first the drain's
// context is cancelled and ctx.Err() is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.forgetAllLocked()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		slog.Info("sync engine stopped")
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// Hub exposes the status hub for read-only consumers.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// Subscribe registers a status listener.
func (e *Engine) Subscribe(l Listener) SubscriptionID {
	return e.hub.Subscribe(l)
}

// Unsubscribe removes a status listener.
func (e *Engine) Unsubscribe(id SubscriptionID) {
	e.hub.Unsubscribe(id)
}

// Status returns a fresh snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	return e.hub.Snapshot(ctx)
}

// QueuedMutations returns every stored mutation in drain order.
func (e *Engine) QueuedMutations(ctx context.Context) ([]mutation.QueuedMutation, error) {
	items, err := e.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	mutation.Sort(items)
	return items, nil
}

// Enqueue persists a new mutation and, when online, requests a drain.
//
// A storage failure surfaces an immediate notice and is returned; nothing
// is persisted in that case.
func (e *Engine) Enqueue(ctx context.Context, req mutation.Request) (mutation.QueuedMutation, error) {
	if e.isStopped() {
		return mutation.QueuedMutation{}, ErrShutdown
	}

	req, err := req.Normalize()
	if err != nil {
		return mutation.QueuedMutation{}, err
	}
	if err := e.cfg.schemas.Validate(req.Kind, req.Body); err != nil {
		e.cfg.notifier.Notice(NoticeError, fmt.Sprintf("Change to %s was rejected: %v", req.Target, err))
		return mutation.QueuedMutation{}, err
	}

	m := req.Build(e.cfg.ids.Generate(), e.cfg.scheduler.Now().UTC())
	if err := e.queue.Enqueue(ctx, m); err != nil {
		slog.Error("enqueue failed",
			"id", m.ID,
			"target", m.Target,
			"kind", m.Kind,
			"error", err,
		)
		e.cfg.notifier.Notice(NoticeError, fmt.Sprintf("Could not save your change to %s for later sync", m.Target))
		return mutation.QueuedMutation{}, err
	}

	slog.Debug("mutation enqueued",
		"id", m.ID,
		"target", m.Target,
		"priority", m.Priority,
		"kind", m.Kind,
	)
	e.cfg.metrics.AddEnqueued(m.Kind)
	e.notify(ctx)

	if e.cfg.drainOnEnqueue && e.hub.Online() {
		e.scheduleDrain()
	}
	return m, nil
}

// DrainAll delivers every due item in priority order. It returns false
// without doing anything if the engine is offline or another drain is
// active.
func (e *Engine) DrainAll(ctx context.Context) bool {
	return e.drain(ctx, false)
}

// RequestDrain is DrainAll bound to the engine's lifecycle context instead
// of the caller's, for triggers such as HTTP requests whose context ends
// when the client goes away. Only Shutdown interrupts it.
func (e *Engine) RequestDrain() bool {
	return e.drain(e.lifecycle(), false)
}

// SetOnline records a connectivity change. Coming online triggers a
// synchronous drain on the engine's lifecycle context; going offline stops
// the active drain after its current attempt.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.hub.setOnline(online)
	slog.Info("connectivity changed", "online", online)
	e.notify(ctx)

	if online {
		e.RequestDrain()
	}
}

// HandleBatchCompleted refreshes status after the background worker has
// processed a batch out of process. Mutations the worker dropped are
// surfaced here as they would be for a foreground drop.
func (e *Engine) HandleBatchCompleted(ctx context.Context, sig bridge.BatchCompleted) {
	slog.Info("background batch completed",
		"delivered", sig.Delivered,
		"retried", sig.Retried,
		"dropped", sig.Dropped,
		"at", sig.At,
	)
	for _, f := range sig.Failures {
		at := f.At
		if at.IsZero() {
			at = sig.At
		}
		e.hub.recordError(SyncError{
			MutationID: f.MutationID,
			Target:     f.Target,
			Kind:       f.Kind,
			Message:    f.Message,
			At:         at,
		})
		e.cfg.notifier.Notice(NoticeError, droppedNotice(f.Target, f.Attempts))
	}
	e.notify(ctx)
}

// Clear deletes every stored mutation and forgets pending retries.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	n, err := e.queue.Clear(ctx)
	if err != nil {
		slog.Error("clear queue failed", "error", err)
		return 0, err
	}

	e.mu.Lock()
	e.forgetAllLocked()
	e.mu.Unlock()

	slog.Info("queue cleared", "removed", n)
	e.notify(ctx)
	return n, nil
}

func (e *Engine) drain(ctx context.Context, wake bool) bool {
	if !e.hub.Online() {
		slog.Debug("drain skipped: offline")
		return false
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	if e.draining {
		if wake {
			e.rerun = true
		}
		e.mu.Unlock()
		return false
	}
	e.draining = true
	e.rerun = false
	e.wg.Add(1)
	e.hub.setSyncing(true)
	e.mu.Unlock()
	defer e.wg.Done()

	start := e.cfg.scheduler.Now()
	slog.Debug("drain started")
	e.notify(ctx)

	passes := 0
	for {
		passes++
		e.drainPass(ctx)

		e.mu.Lock()
		if e.rerun && !e.stopped && ctx.Err() == nil && e.hub.Online() {
			e.rerun = false
			e.mu.Unlock()
			continue
		}
		e.rerun = false
		e.draining = false
		end := e.cfg.scheduler.Now()
		e.hub.finishSync(end)
		e.mu.Unlock()

		e.cfg.metrics.ObserveDrainDuration(end.Sub(start))
		break
	}

	slog.Debug("drain finished", "passes", passes)
	e.notify(ctx)
	return true
}

// drainPass lists the store once and attempts every item that is not
// waiting out a backoff.
func (e *Engine) drainPass(ctx context.Context) {
	items, err := e.queue.List(ctx)
	if err != nil {
		slog.Error("drain list failed", "error", err)
		e.hub.recordError(SyncError{
			Message: err.Error(),
			At:      e.cfg.scheduler.Now().UTC(),
		})
		return
	}
	mutation.Sort(items)
	e.forgetMissing(items)

	for _, m := range items {
		if ctx.Err() != nil || e.isStopped() {
			return
		}
		if !e.hub.Online() {
			slog.Info("drain paused: offline", "remaining", len(items))
			return
		}
		if e.waiting(m.ID) {
			continue
		}
		e.attempt(ctx, m)
	}
}

func (e *Engine) attempt(ctx context.Context, m mutation.QueuedMutation) {
	slog.Debug("delivering mutation",
		"id", m.ID,
		"target", m.Target,
		"kind", m.Kind,
		"retry_count", m.RetryCount,
	)

	err := e.deliverer.Deliver(ctx, m)
	if err != nil && ctx.Err() != nil {
		// Cancelled by shutdown or the caller; the item stays queued as is.
		slog.Info("delivery interrupted", "id", m.ID, "error", err)
		return
	}
	if err != nil {
		e.fail(ctx, m, err)
		return
	}

	if err := e.queue.Remove(ctx, m.ID); err != nil {
		slog.Warn("remove delivered mutation failed", "id", m.ID, "error", err)
	}
	e.unpark(m.ID)
	e.cfg.metrics.AddDelivered(m.Kind)
	slog.Info("mutation delivered",
		"id", m.ID,
		"target", m.Target,
		"kind", m.Kind,
		"attempt", m.RetryCount+1,
	)
	e.notify(ctx)
}

func (e *Engine) fail(ctx context.Context, m mutation.QueuedMutation, cause error) {
	d := e.cfg.policy.Decide(m.RetryCount)
	if d.Terminal {
		e.drop(ctx, m, cause)
		return
	}

	next := m.Clone()
	next.RetryCount = d.NextRetryCount
	if err := e.queue.Update(ctx, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Removed by the background worker or a clear; nothing to retry.
			slog.Debug("mutation resolved elsewhere", "id", m.ID)
			e.unpark(m.ID)
			e.notify(ctx)
			return
		}
		slog.Error("persist retry count failed", "id", m.ID, "error", err)
	}

	e.park(m.ID, d.Delay)
	e.cfg.metrics.AddRetried(m.Kind)
	slog.Warn("delivery failed, retry scheduled",
		"id", m.ID,
		"target", m.Target,
		"kind", m.Kind,
		"retry_count", next.RetryCount,
		"delay", d.Delay,
		"error", cause,
	)
	e.notify(ctx)
}

func (e *Engine) drop(ctx context.Context, m mutation.QueuedMutation, cause error) {
	if err := e.queue.Remove(ctx, m.ID); err != nil {
		// Still stored: the next drain attempts it again and drops it then.
		slog.Error("remove dropped mutation failed", "id", m.ID, "error", err)
		return
	}
	e.unpark(m.ID)

	tf := retry.NewTerminalFailure(m, cause)
	e.hub.recordError(SyncError{
		MutationID: m.ID,
		Target:     m.Target,
		Kind:       m.Kind,
		Message:    tf.Error(),
		At:         e.cfg.scheduler.Now().UTC(),
	})
	e.cfg.metrics.AddDropped(m.Kind)
	slog.Error("mutation dropped",
		"id", m.ID,
		"target", m.Target,
		"kind", m.Kind,
		"attempts", tf.Attempts,
		"error", cause,
	)
	e.cfg.notifier.Notice(NoticeError, droppedNotice(m.Target, tf.Attempts))
	e.notify(ctx)
}

func droppedNotice(target string, attempts int) string {
	return fmt.Sprintf("Could not sync your change to %s after %d attempts; it was discarded", target, attempts)
}

// scheduleDrain starts a background drain, or folds into the active one.
func (e *Engine) scheduleDrain() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	if e.draining {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	go e.drain(ctx, true)
}

func (e *Engine) park(id string, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.parked[id] = e.cfg.scheduler.Now().Add(delay)
	e.timers[id] = e.cfg.scheduler.AfterFunc(delay, func() { e.retryDue(id) })
}

func (e *Engine) retryDue(id string) {
	e.mu.Lock()
	delete(e.timers, id)
	if e.stopped {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	slog.Debug("retry due", "id", id)
	e.drain(ctx, true)
}

func (e *Engine) waiting(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	due, ok := e.parked[id]
	return ok && e.cfg.scheduler.Now().Before(due)
}

func (e *Engine) unpark(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	delete(e.parked, id)
}

// forgetMissing drops backoff state for items no longer in the store.
func (e *Engine) forgetMissing(items []mutation.QueuedMutation) {
	present := make(map[string]struct{}, len(items))
	for _, m := range items {
		present[m.ID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.parked {
		if _, ok := present[id]; ok {
			continue
		}
		if t, ok := e.timers[id]; ok {
			t.Stop()
			delete(e.timers, id)
		}
		delete(e.parked, id)
	}
}

func (e *Engine) forgetAllLocked() {
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.parked = make(map[string]time.Time)
}

func (e *Engine) lifecycle() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// notify publishes a fresh snapshot and keeps the queue-depth gauge current.
func (e *Engine) notify(ctx context.Context) {
	st := e.hub.Notify(ctx)
	e.cfg.metrics.SetQueued(st.QueuedCount)
}
