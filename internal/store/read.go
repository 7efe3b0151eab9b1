package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

const selectColumns = `SELECT id, target, method, headers, body, enqueued_at, retry_count, priority, kind FROM queued_mutations`

// List returns every queued record.
//
// Callers must not rely on the order; the engine re-sorts in memory. Rows
// come back ORDER BY enqueued_at, id only so diagnostic output is stable.
func (s *Store) List(ctx context.Context) ([]mutation.QueuedMutation, error) {
	return s.list(ctx, "list", selectColumns+` ORDER BY enqueued_at ASC, id ASC`)
}

// ListByKind returns queued records with the given kind (secondary lookup).
func (s *Store) ListByKind(ctx context.Context, kind mutation.Kind) ([]mutation.QueuedMutation, error) {
	kind = mutation.NormalizeKind(string(kind))
	return s.list(ctx, "list by kind", selectColumns+` WHERE kind = ? ORDER BY enqueued_at ASC, id ASC`, string(kind))
}

// ListByPriority returns queued records with the given priority (secondary lookup).
func (s *Store) ListByPriority(ctx context.Context, p mutation.Priority) ([]mutation.QueuedMutation, error) {
	return s.list(ctx, "list by priority", selectColumns+` WHERE priority = ? ORDER BY enqueued_at ASC, id ASC`, string(p))
}

// ListEnqueuedBefore returns records enqueued strictly before t (secondary lookup).
func (s *Store) ListEnqueuedBefore(ctx context.Context, t time.Time) ([]mutation.QueuedMutation, error) {
	return s.list(ctx, "list by time", selectColumns+` WHERE enqueued_at < ? ORDER BY enqueued_at ASC, id ASC`, t.UnixNano())
}

// Get retrieves a single record by ID.
// Returns ErrNotFound if it is not queued.
func (s *Store) Get(ctx context.Context, id string) (mutation.QueuedMutation, error) {
	row := s.queryRow(ctx, selectColumns+` WHERE id = ?`, id)

	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.QueuedMutation{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return mutation.QueuedMutation{}, storageErr("get", id, err)
	}
	return m, nil
}

// Count returns the number of queued records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM queued_mutations`).Scan(&n); err != nil {
		return 0, storageErr("count", "", err)
	}
	return n, nil
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]mutation.QueuedMutation, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, "", err)
	}
	defer rows.Close()

	var out []mutation.QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, storageErr(op, "", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, "", fmt.Errorf("iterate: %w", err))
	}

	// Return empty slice instead of nil
	if out == nil {
		out = []mutation.QueuedMutation{}
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(sc scanner) (mutation.QueuedMutation, error) {
	var (
		m           mutation.QueuedMutation
		headersJSON string
		body        []byte
		enqueuedAt  int64
		priority    string
		kind        string
	)

	if err := sc.Scan(&m.ID, &m.Target, &m.Method, &headersJSON, &body, &enqueuedAt, &m.RetryCount, &priority, &kind); err != nil {
		return mutation.QueuedMutation{}, err
	}

	headers, err := unmarshalHeaders(headersJSON)
	if err != nil {
		return mutation.QueuedMutation{}, err
	}

	m.Headers = headers
	m.Body = body
	m.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	m.Priority = mutation.Priority(priority)
	m.Kind = mutation.Kind(kind)
	return m, nil
}
