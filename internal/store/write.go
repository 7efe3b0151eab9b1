package store

import (
	"context"
	"fmt"

	"github.com/roach88/habitsync/internal/mutation"
)

// Enqueue inserts a new queued mutation.
// Uses ON CONFLICT(id) DO NOTHING and checks rows affected, so a reused ID
// is reported as ErrDuplicateID instead of overwriting a live record.
func (s *Store) Enqueue(ctx context.Context, m mutation.QueuedMutation) error {
	if m.ID == "" {
		return &StorageError{Op: "enqueue", Err: fmt.Errorf("empty id")}
	}

	headersJSON, err := marshalHeaders(m.Headers)
	if err != nil {
		return storageErr("enqueue", m.ID, err)
	}

	res, err := s.exec(ctx, `
		INSERT INTO queued_mutations
		(id, target, method, headers, body, enqueued_at, retry_count, priority, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		m.Target,
		m.Method,
		headersJSON,
		bodyArg(m.Body),
		m.EnqueuedAt.UnixNano(),
		m.RetryCount,
		string(m.Priority),
		string(m.Kind),
	)
	if err != nil {
		return storageErr("enqueue", m.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("enqueue", m.ID, err)
	}
	if n == 0 {
		return storageErr("enqueue", m.ID, ErrDuplicateID)
	}

	return nil
}

// Update overwrites the mutable fields of an existing record by ID.
// Never inserts: if the record is gone (delivered or dropped by another
// context), returns ErrNotFound so the caller does not resurrect it.
func (s *Store) Update(ctx context.Context, m mutation.QueuedMutation) error {
	headersJSON, err := marshalHeaders(m.Headers)
	if err != nil {
		return storageErr("update", m.ID, err)
	}

	res, err := s.exec(ctx, `
		UPDATE queued_mutations
		SET target = ?, method = ?, headers = ?, body = ?, retry_count = ?, priority = ?, kind = ?
		WHERE id = ?
	`,
		m.Target,
		m.Method,
		headersJSON,
		bodyArg(m.Body),
		m.RetryCount,
		string(m.Priority),
		string(m.Kind),
		m.ID,
	)
	if err != nil {
		return storageErr("update", m.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update", m.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", m.ID, ErrNotFound)
	}

	return nil
}

// Remove deletes a record by ID. Removing a missing ID is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM queued_mutations WHERE id = ?`, id); err != nil {
		return storageErr("remove", id, err)
	}
	return nil
}

// Clear empties the queue. Returns the number of records removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM queued_mutations`)
	if err != nil {
		return 0, storageErr("clear", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear", "", err)
	}
	return int(n), nil
}

// bodyArg binds an absent body as SQL NULL.
func bodyArg(body []byte) any {
	if body == nil {
		return nil
	}
	return body
}
