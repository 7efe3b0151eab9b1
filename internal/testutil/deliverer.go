package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/habitsync/internal/clock"
	"github.com/roach88/habitsync/internal/mutation"
)

// ErrScriptedFailure is the default error returned by scripted failures.
var ErrScriptedFailure = errors.New("scripted delivery failure")

// Attempt records one call to ScriptedDeliverer.Deliver.
type Attempt struct {
	ID         string
	RetryCount int
	At         time.Time
	Err        error
}

// ScriptedDeliverer is a delivery.Deliverer whose outcomes are scripted per
// mutation ID. Unscripted IDs succeed.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedDeliverer struct {
	mu       sync.Mutex
	clock    clock.Scheduler
	failures map[string]int // remaining failures; -1 means always
	attempts []Attempt
}

// NewScriptedDeliverer creates a deliverer that stamps attempts with c.Now().
func NewScriptedDeliverer(c clock.Scheduler) *ScriptedDeliverer {
	return &ScriptedDeliverer{
		clock:    c,
		failures: make(map[string]int),
	}
}

// FailTimes makes the next n attempts of id fail, after which it succeeds.
func (d *ScriptedDeliverer) FailTimes(id string, n int) *ScriptedDeliverer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[id] = n
	return d
}

// AlwaysFail makes every attempt of id fail.
func (d *ScriptedDeliverer) AlwaysFail(id string) *ScriptedDeliverer {
	return d.FailTimes(id, -1)
}

// Deliver implements delivery.Deliverer.
func (d *ScriptedDeliverer) Deliver(_ context.Context, m mutation.QueuedMutation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	switch remaining := d.failures[m.ID]; {
	case remaining < 0:
		err = ErrScriptedFailure
	case remaining > 0:
		d.failures[m.ID] = remaining - 1
		err = ErrScriptedFailure
	}

	d.attempts = append(d.attempts, Attempt{
		ID:         m.ID,
		RetryCount: m.RetryCount,
		At:         d.clock.Now(),
		Err:        err,
	})
	return err
}

// Attempts returns a copy of every recorded attempt in call order.
func (d *ScriptedDeliverer) Attempts() []Attempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Attempt(nil), d.attempts...)
}

// AttemptIDs returns the mutation IDs of every attempt in call order.
func (d *ScriptedDeliverer) AttemptIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, len(d.attempts))
	for i, a := range d.attempts {
		ids[i] = a.ID
	}
	return ids
}
