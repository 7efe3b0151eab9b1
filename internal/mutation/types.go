package mutation

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Priority orders mutations within a drain. High drains first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists all priorities in drain order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the sort rank of the priority (0 drains first).
// Unknown priorities rank with medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Valid reports whether p is one of the three known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority parses a priority name. The empty string yields medium.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityMedium, nil
	}
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// Kind tags a mutation for observability and diagnostic filtering.
type Kind string

// Well-known kinds produced by the reminder/counter call sites.
const (
	KindReminderLog    Kind = "reminder_log"
	KindCounterUpdate  Kind = "counter_update"
	KindReminderUpdate Kind = "reminder_update"
	KindGeneral        Kind = "general"
)

// Header is a single request header. Order is significant.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueuedMutation is a persisted, not-yet-confirmed state-changing request.
type QueuedMutation struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Method     string    `json:"method"`
	Headers    []Header  `json:"headers,omitempty"`
	Body       []byte    `json:"body,omitempty"` // nil means absent
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
	Priority   Priority  `json:"priority"`
	Kind       Kind      `json:"kind"`
}

// HeaderValue returns the first value of the named header, compared
// case-insensitively.
func (m QueuedMutation) HeaderValue(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy so callers can mutate RetryCount or headers
// without aliasing the original.
func (m QueuedMutation) Clone() QueuedMutation {
	out := m
	if m.Headers != nil {
		out.Headers = append([]Header(nil), m.Headers...)
	}
	if m.Body != nil {
		out.Body = append([]byte(nil), m.Body...)
	}
	return out
}

// Request is the producer-side description of a mutation to enqueue.
type Request struct {
	Target   string
	Method   string
	Headers  []Header
	Body     []byte
	Priority Priority
	Kind     Kind
}

// Normalize fills defaults and validates the request.
// Method defaults to POST, priority to medium and kind to general.
func (r Request) Normalize() (Request, error) {
	r.Target = strings.TrimSpace(r.Target)
	if r.Target == "" {
		return Request{}, ErrTargetRequired
	}
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodPost
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if !r.Priority.Valid() {
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidPriority, r.Priority)
	}
	r.Kind = NormalizeKind(string(r.Kind))
	return r, nil
}

// Build turns a normalized request into a queued mutation.
func (r Request) Build(id string, now time.Time) QueuedMutation {
	m := QueuedMutation{
		ID:         id,
		Target:     r.Target,
		Method:     r.Method,
		EnqueuedAt: now,
		Priority:   r.Priority,
		Kind:       r.Kind,
	}
	if len(r.Headers) > 0 {
		m.Headers = append([]Header(nil), r.Headers...)
	}
	if r.Body != nil {
		m.Body = append([]byte(nil), r.Body...)
	}
	return m
}
