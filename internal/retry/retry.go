// Package retry holds the retry/backoff policy shared by the foreground
// sync engine and the background delivery bridge.
//
// The policy is a pure function of a mutation's persisted retry count: it
// never touches the store or the clock. Both execution contexts must use
// the same ceiling so a mutation is never attempted more than
// Ceiling+1 times no matter which context attempts it.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

// DefaultCeiling is the number of retries after the initial attempt.
const DefaultCeiling = 3

// DefaultDelays is the backoff schedule indexed by retry count.
var DefaultDelays = []time.Duration{
	1000 * time.Millisecond,
	5000 * time.Millisecond,
	15000 * time.Millisecond,
}

// Policy maps a retry count to a wait time or a terminal decision.
type Policy struct {
	// Ceiling is the maximum retry count. A failure at RetryCount >= Ceiling is terminal.
	Ceiling int
	// Delays is indexed by retry count; counts past the end use the last entry.
	Delays []time.Duration
}

// DefaultPolicy returns ceiling 3 with delays 1s, 5s, 15s.
func DefaultPolicy() Policy {
	return Policy{
		Ceiling: DefaultCeiling,
		Delays:  append([]time.Duration(nil), DefaultDelays...),
	}
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.Ceiling < 0 {
		return fmt.Errorf("retry ceiling must not be negative, got %d", p.Ceiling)
	}
	if p.Ceiling > 0 && len(p.Delays) == 0 {
		return errors.New("retry delays must not be empty when ceiling > 0")
	}
	for i, d := range p.Delays {
		if d <= 0 {
			return fmt.Errorf("retry delay %d must be positive, got %s", i, d)
		}
	}
	return nil
}

// Delay returns the wait before the re-attempt that follows a failure at
// the given retry count. Counts beyond the schedule use the final delay.
func (p Policy) Delay(retryCount int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[retryCount]
}

// Decision is the outcome of a failed delivery attempt.
type Decision struct {
	// Terminal means the mutation is dropped and never attempted again.
	Terminal bool
	// Delay is the wait before the next attempt (zero when Terminal).
	Delay time.Duration
	// NextRetryCount is the value to persist before re-attempting.
	NextRetryCount int
}

// Decide classifies a failure of a mutation that currently has retryCount.
func (p Policy) Decide(retryCount int) Decision {
	if retryCount >= p.Ceiling {
		return Decision{Terminal: true, NextRetryCount: retryCount}
	}
	return Decision{
		Delay:          p.Delay(retryCount),
		NextRetryCount: retryCount + 1,
	}
}

// Attempts returns the maximum number of delivery attempts per mutation.
func (p Policy) Attempts() int {
	return p.Ceiling + 1
}

// TerminalFailure reports a mutation that exhausted its retry budget and
// was permanently dropped. It is surfaced through status and notices, never
// returned to the original producer.
type TerminalFailure struct {
	MutationID string
	Target     string
	Method     string
	Kind       mutation.Kind
	Attempts   int
	Err        error
}

// NewTerminalFailure builds a TerminalFailure for m after its last failed attempt.
func NewTerminalFailure(m mutation.QueuedMutation, err error) *TerminalFailure {
	return &TerminalFailure{
		MutationID: m.ID,
		Target:     m.Target,
		Method:     m.Method,
		Kind:       m.Kind,
		Attempts:   m.RetryCount + 1,
		Err:        err,
	}
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("%s %s abandoned after %d attempts: %v", e.Method, e.Target, e.Attempts, e.Err)
}

func (e *TerminalFailure) Unwrap() error {
	return e.Err
}
