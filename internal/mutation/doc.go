// Package mutation defines the queued mutation data model shared by the
// store, the sync engine and the background bridge.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import mutation; mutation imports nothing internal.
//
// Key design constraints:
//   - IDs are UUIDv7 strings, assigned once at enqueue time and never reused
//   - Priority and Kind are closed/normalized string tags; Kind is never used for ordering
//   - Headers are an ordered slice, not a map, so insertion order survives persistence
//   - Ordering is always priority rank, then EnqueuedAt, then ID (see Less)
package mutation
