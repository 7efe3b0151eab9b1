package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// createTestMutation creates a queued mutation with minimal required fields.
func createTestMutation(id string, p mutation.Priority, offset time.Duration) mutation.QueuedMutation {
	return mutation.QueuedMutation{
		ID:         id,
		Target:     "/api/reminders/" + id + "/logs",
		Method:     "POST",
		Headers:    []mutation.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:       []byte(`{"done":true}`),
		EnqueuedAt: testEpoch.Add(offset),
		Priority:   p,
		Kind:       mutation.KindReminderLog,
	}
}
