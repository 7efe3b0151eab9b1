package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

// BatchCompleted reports one finished batch of background attempts.
type BatchCompleted struct {
	Delivered int            `json:"delivered"`
	Retried   int            `json:"retried"`
	Dropped   int            `json:"dropped"`
	Failures  []BatchFailure `json:"failures,omitempty"`
	At        time.Time      `json:"at"`
}

// BatchFailure names a mutation the worker dropped at the retry ceiling,
// so the foreground can surface it.
type BatchFailure struct {
	MutationID string        `json:"mutation_id"`
	Target     string        `json:"target"`
	Kind       mutation.Kind `json:"kind"`
	Attempts   int           `json:"attempts"`
	Message    string        `json:"message"`
	At         time.Time     `json:"at"`
}

// Resolved reports whether any item left the store in this batch.
func (b BatchCompleted) Resolved() bool {
	return b.Delivered+b.Dropped > 0
}

// Signaler carries BatchCompleted to the foreground. Delivery is best
// effort: implementations never block and never return an error.
type Signaler interface {
	Signal(ctx context.Context, b BatchCompleted)
}

// NopSignaler drops every signal.
type NopSignaler struct{}

// Signal implements Signaler.
func (NopSignaler) Signal(context.Context, BatchCompleted) {}

// ChannelSignaler delivers signals in-process over a buffered channel.
type ChannelSignaler struct {
	ch chan BatchCompleted
}

// NewChannelSignaler creates a signaler with the given buffer size.
func NewChannelSignaler(buffer int) *ChannelSignaler {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSignaler{ch: make(chan BatchCompleted, buffer)}
}

// C returns the receive side.
func (s *ChannelSignaler) C() <-chan BatchCompleted {
	return s.ch
}

// Signal implements Signaler. A full buffer means nobody is draining it;
// the signal is dropped.
func (s *ChannelSignaler) Signal(_ context.Context, b BatchCompleted) {
	select {
	case s.ch <- b:
	default:
		slog.Debug("batch signal dropped: no receiver")
	}
}

// FileSignaler delivers signals across processes by replacing a small
// JSON file that the foreground watches with a FileWatcher.
type FileSignaler struct {
	path string
}

// NewFileSignaler writes signals to path.
func NewFileSignaler(path string) *FileSignaler {
	return &FileSignaler{path: path}
}

// Signal implements Signaler. Write failures are logged and the signal is
// dropped.
func (s *FileSignaler) Signal(_ context.Context, b BatchCompleted) {
	if err := writeSignal(s.path, b); err != nil {
		slog.Warn("batch signal dropped", "path", s.path, "error", err)
	}
}

func writeSignal(path string, b BatchCompleted) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSignal loads the last signal written to path.
func ReadSignal(path string) (BatchCompleted, error) {
	var b BatchCompleted
	data, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("decode batch signal %s: %w", path, err)
	}
	return b, nil
}
