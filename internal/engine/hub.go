package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

// maxRecentErrors bounds the error ring carried in Status.
const maxRecentErrors = 10

// SyncError is one entry of the recent-errors ring.
type SyncError struct {
	MutationID string        `json:"mutation_id,omitempty"`
	Target     string        `json:"target,omitempty"`
	Kind       mutation.Kind `json:"kind,omitempty"`
	Message    string        `json:"message"`
	At         time.Time     `json:"at"`
}

// Status is a point-in-time snapshot of the engine. Derived, never persisted.
type Status struct {
	Online       bool        `json:"is_online"`
	Syncing      bool        `json:"is_syncing"`
	QueuedCount  int         `json:"queued_count"`
	LastSyncTime *time.Time  `json:"last_sync_time"`
	RecentErrors []SyncError `json:"recent_errors"`
}

// Listener receives a fresh Status after every observable transition.
type Listener func(Status)

// SubscriptionID identifies a registered listener.
type SubscriptionID uint64

// Counter reports how many mutations are queued.
type Counter func(ctx context.Context) (int, error)

// Hub aggregates engine state and fans out Status snapshots.
//
// Listeners run synchronously on the goroutine that produced the change.
// Notify iterates over a copy of the listener set, so listeners may
// subscribe or unsubscribe from inside a callback, and a panicking listener
// is recovered and logged without skipping the others.
type Hub struct {
	count Counter

	mu           sync.Mutex
	online       bool
	syncing      bool
	lastSync     time.Time
	lastCount    int
	recentErrors []SyncError

	lmu       sync.Mutex
	nextID    SubscriptionID
	listeners map[SubscriptionID]Listener
}

// NewHub creates a hub that derives QueuedCount from count.
func NewHub(count Counter, online bool) *Hub {
	return &Hub{
		count:     count,
		online:    online,
		listeners: make(map[SubscriptionID]Listener),
	}
}

// Subscribe registers l and returns its id for Unsubscribe.
func (h *Hub) Subscribe(l Listener) SubscriptionID {
	h.lmu.Lock()
	defer h.lmu.Unlock()

	h.nextID++
	h.listeners[h.nextID] = l
	return h.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id SubscriptionID) {
	h.lmu.Lock()
	defer h.lmu.Unlock()
	delete(h.listeners, id)
}

// Online reports the last known connectivity state.
func (h *Hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

func (h *Hub) setOnline(online bool) {
	h.mu.Lock()
	h.online = online
	h.mu.Unlock()
}

func (h *Hub) setSyncing(syncing bool) {
	h.mu.Lock()
	h.syncing = syncing
	h.mu.Unlock()
}

func (h *Hub) finishSync(at time.Time) {
	h.mu.Lock()
	h.syncing = false
	h.lastSync = at
	h.mu.Unlock()
}

// recordError appends to the ring, evicting the oldest past maxRecentErrors.
func (h *Hub) recordError(e SyncError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recentErrors = append(h.recentErrors, e)
	if over := len(h.recentErrors) - maxRecentErrors; over > 0 {
		h.recentErrors = append([]SyncError(nil), h.recentErrors[over:]...)
	}
}

// Snapshot computes a fresh Status. QueuedCount is re-read from the store;
// if that read fails the last known count is reported.
func (h *Hub) Snapshot(ctx context.Context) Status {
	count, err := h.count(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		slog.Warn("status queued count unavailable", "error", err)
		count = h.lastCount
	}
	h.lastCount = count

	st := Status{
		Online:       h.online,
		Syncing:      h.syncing,
		QueuedCount:  count,
		RecentErrors: append([]SyncError{}, h.recentErrors...),
	}
	if !h.lastSync.IsZero() {
		t := h.lastSync
		st.LastSyncTime = &t
	}
	return st
}

// Notify computes a fresh snapshot, sends it to every listener in
// subscription order and returns it.
func (h *Hub) Notify(ctx context.Context) Status {
	st := h.Snapshot(ctx)

	h.lmu.Lock()
	ids := make([]SubscriptionID, 0, len(h.listeners))
	snapshot := make(map[SubscriptionID]Listener, len(h.listeners))
	for id, l := range h.listeners {
		ids = append(ids, id)
		snapshot[id] = l
	}
	h.lmu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h.deliver(id, snapshot[id], st)
	}
	return st
}

func (h *Hub) deliver(id SubscriptionID, l Listener, st Status) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("status listener panic", "subscription", id, "panic", rec)
		}
	}()

	own := st
	own.RecentErrors = append([]SyncError{}, st.RecentErrors...)
	if st.LastSyncTime != nil {
		t := *st.LastSyncTime
		own.LastSyncTime = &t
	}
	l(own)
}
