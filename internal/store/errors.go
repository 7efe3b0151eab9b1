package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist (Get, Update).
	ErrNotFound = errors.New("queued mutation not found")
	// ErrDuplicateID is returned when Enqueue is given an ID already in the store.
	ErrDuplicateID = errors.New("queued mutation id already exists")
)

// StorageError reports that the durable store rejected a read or write.
// It is never retried by the engine; it surfaces to the immediate caller.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, ID: id, Err: err}
}
