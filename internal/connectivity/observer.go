// Package connectivity turns platform online/offline signals into
// edge-triggered transitions.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
)

// Handler runs on every transition with the new state.
type Handler func(ctx context.Context, online bool)

// Observer is a two-state machine (online/offline). Repeated signals of
// the current state are ignored; handlers only run on a transition.
type Observer struct {
	mu       sync.Mutex
	online   bool
	handlers []Handler
}

// NewObserver creates an observer in the given initial state.
func NewObserver(online bool) *Observer {
	return &Observer{online: online}
}

// OnChange registers h. Handlers run in registration order.
func (o *Observer) OnChange(h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = append(o.handlers, h)
}

// Online reports the current state.
func (o *Observer) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Set records a signal and reports whether it was a transition. Handlers
// run synchronously on the caller's goroutine, outside the lock.
func (o *Observer) Set(ctx context.Context, online bool) bool {
	o.mu.Lock()
	if o.online == online {
		o.mu.Unlock()
		return false
	}
	o.online = online
	handlers := append([]Handler(nil), o.handlers...)
	o.mu.Unlock()

	slog.Info("connectivity transition", "online", online)
	for _, h := range handlers {
		h(ctx, online)
	}
	return true
}
