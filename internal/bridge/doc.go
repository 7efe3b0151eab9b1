// Package bridge is the background delivery worker: a second execution
// context that drains the same durable store as the foreground engine,
// possibly in a different process.
//
// The worker shares the store contract (List/Update/Remove) and the retry
// ceiling with the engine. It is tolerant of concurrent removal: a missing
// record on Update means another context resolved it, and Remove of a
// missing record is a no-op, so an item is never resurrected.
//
// After a batch that resolved at least one item the worker emits a
// BatchCompleted signal. The signal is advisory; when no foreground is
// listening it is dropped.
package bridge
