// Package engine coordinates the offline mutation queue.
//
// The engine persists mutations through a Queue, drains them in priority
// order when online, and applies the shared retry policy to failed
// deliveries. It also owns the status Hub that fans snapshots out to
// listeners (UI, HTTP stream, CLI).
//
// Drains are single-flight. A drain requested while one is active returns
// false immediately; a retry that comes due, or a new enqueue, during an
// active drain is folded into that drain as one more pass over the store.
//
// Timing is injected through clock.Scheduler so tests can drive backoff in
// virtual time.
package engine
