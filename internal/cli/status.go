package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/habitsync/internal/engine"
	"github.com/roach88/habitsync/internal/mutation"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Server string

	// HTTPClient allows overriding the client used for --server (for testing).
	HTTPClient *http.Client
}

// LocalStatus is read straight from the queue database.
type LocalStatus struct {
	Database    string                    `json:"database"`
	QueuedCount int                       `json:"queued_count"`
	ByPriority  map[mutation.Priority]int `json:"by_priority"`
	Oldest      *time.Time                `json:"oldest_enqueued_at,omitempty"`
}

func (s LocalStatus) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "database: %s\n", s.Database)
	fmt.Fprintf(w, "queued:   %d (high=%d medium=%d low=%d)\n", s.QueuedCount,
		s.ByPriority[mutation.PriorityHigh], s.ByPriority[mutation.PriorityMedium], s.ByPriority[mutation.PriorityLow])
	if s.Oldest != nil {
		fmt.Fprintf(w, "oldest:   %s\n", s.Oldest.Format(time.RFC3339))
	}
	return nil
}

// ServerStatus wraps a live engine status fetched from serve.
type ServerStatus struct {
	engine.Status
}

func (s ServerStatus) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "online:  %t\n", s.Online)
	fmt.Fprintf(w, "syncing: %t\n", s.Syncing)
	fmt.Fprintf(w, "queued:  %d\n", s.QueuedCount)
	if s.LastSyncTime != nil {
		fmt.Fprintf(w, "last sync: %s\n", s.LastSyncTime.Format(time.RFC3339))
	}
	for _, e := range s.RecentErrors {
		fmt.Fprintf(w, "error: %s %s: %s\n", e.At.Format(time.RFC3339), e.MutationID, e.Message)
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status",
		Long: `Show queue status.

Without --server, reads counts directly from the queue database. With
--server, fetches the live status (connectivity, syncing, recent errors)
from a running serve.

Example:
  habitsync status
  habitsync status --server http://127.0.0.1:8787 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "", "base URL of a running serve")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Server != "" {
		st, err := fetchServerStatus(ctx, opts.HTTPClient, opts.Server)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to fetch server status", err)
		}
		return out.Success(ServerStatus{Status: st})
	}

	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	ms, err := rt.store.List(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read queue", err)
	}

	st := LocalStatus{
		Database:    rt.cfg.Database,
		QueuedCount: len(ms),
		ByPriority:  make(map[mutation.Priority]int, len(mutation.Priorities)),
	}
	for _, p := range mutation.Priorities {
		st.ByPriority[p] = 0
	}
	for _, m := range ms {
		st.ByPriority[m.Priority]++
		if st.Oldest == nil || m.EnqueuedAt.Before(*st.Oldest) {
			t := m.EnqueuedAt.UTC()
			st.Oldest = &t
		}
	}
	return out.Success(st)
}

func fetchServerStatus(ctx context.Context, client *http.Client, base string) (engine.Status, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v1/status", nil)
	if err != nil {
		return engine.Status{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return engine.Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.Status{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var st engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return engine.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
