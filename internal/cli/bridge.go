package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/habitsync/internal/bridge"
)

// BridgeOptions holds flags for the bridge command.
type BridgeOptions struct {
	*RootOptions
	Once bool
}

// BatchResult is the output of `bridge --once`.
type BatchResult struct {
	Delivered int                   `json:"delivered"`
	Retried   int                   `json:"retried"`
	Dropped   int                   `json:"dropped"`
	Failures  []bridge.BatchFailure `json:"failures,omitempty"`
	At        time.Time             `json:"at"`
}

func (r BatchResult) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "delivered=%d retried=%d dropped=%d\n", r.Delivered, r.Retried, r.Dropped); err != nil {
		return err
	}
	for _, f := range r.Failures {
		if _, err := fmt.Fprintf(w, "dropped %s %s after %d attempts\n", f.MutationID, f.Target, f.Attempts); err != nil {
			return err
		}
	}
	return nil
}

// NewBridgeCommand creates the bridge command.
func NewBridgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BridgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the background delivery worker",
		Long: `Run the background delivery worker against the shared queue.

The worker attempts every queued mutation once per batch, oldest first,
under the same retry ceiling as the foreground engine. It may run while
serve is running, or instead of it. After a batch that resolved anything
it writes a signal file that a running serve watches.

Example:
  habitsync bridge --config ./habitsync.yaml
  habitsync bridge --db ./queue.db --once --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single batch and exit")

	return cmd
}

func runBridge(opts *BridgeOptions, cmd *cobra.Command) error {
	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	var signaler bridge.Signaler = bridge.NopSignaler{}
	if path := rt.cfg.SignalPath(); path != "" {
		signaler = bridge.NewFileSignaler(path)
	}

	w, err := bridge.NewWorker(rt.store, rt.deliverer, bridge.WorkerOptions{
		Policy:   rt.cfg.RetryPolicy(),
		Interval: rt.cfg.BridgeInterval(),
		Signaler: signaler,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create bridge worker", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if !opts.Once {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "bridge worker failed", err)
		}
		return nil
	}

	batch, err := w.RunOnce(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "bridge batch failed", err)
	}
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if batch.Resolved() && rt.cfg.SignalPath() != "" {
		out.VerboseLog("signalled %s", rt.cfg.SignalPath())
	}
	return out.Success(BatchResult{
		Delivered: batch.Delivered,
		Retried:   batch.Retried,
		Dropped:   batch.Dropped,
		Failures:  batch.Failures,
		At:        batch.At,
	})
}
