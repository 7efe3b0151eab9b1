// Package store provides the durable queue of not-yet-delivered mutations.
//
// The store is the single source of truth shared by the foreground sync
// engine and the background delivery bridge, which may run in separate
// processes against the same database. All mutation goes through five
// operations:
//
//   - Enqueue: insert a new record (duplicate IDs are rejected, never overwritten)
//   - List:    read every queued record
//   - Remove:  delete by ID (missing IDs are a no-op)
//   - Update:  overwrite by ID (missing IDs return ErrNotFound, never re-insert)
//   - Clear:   delete everything
//
// Each operation is a single statement, so the database provides atomicity
// at single-record granularity and no external locking is needed.
//
// # Database Configuration
//
// SQLite (default, any DSN that is not a postgres URL):
//   - WAL mode: concurrent readers while the other context writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for the other context's write lock up to 5 seconds
//
// PostgreSQL (DSN starting with postgres:// or postgresql://) via lib/pq.
//
// Every failure of the underlying database is returned as *StorageError.
package store
