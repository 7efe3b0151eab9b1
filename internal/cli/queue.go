package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/habitsync/internal/mutation"
)

// QueueOptions holds flags for the queue subcommands.
type QueueOptions struct {
	*RootOptions
	Kind     string
	Priority string
}

// QueueItem is one row of `queue list`.
type QueueItem struct {
	ID         string            `json:"id"`
	Target     string            `json:"target"`
	Method     string            `json:"method"`
	Priority   mutation.Priority `json:"priority"`
	Kind       mutation.Kind     `json:"kind"`
	RetryCount int               `json:"retry_count"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	BodyBytes  int               `json:"body_bytes"`
}

// QueueListResult is the output of `queue list`, in drain order.
type QueueListResult struct {
	Count     int         `json:"count"`
	Mutations []QueueItem `json:"mutations"`
}

func (r QueueListResult) RenderText(w io.Writer) error {
	if r.Count == 0 {
		_, err := fmt.Fprintln(w, "queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tKIND\tMETHOD\tTARGET\tRETRIES\tENQUEUED")
	for _, m := range r.Mutations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.Priority, m.Kind, m.Method, m.Target, m.RetryCount, m.EnqueuedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// QueueClearResult is the output of `queue clear`.
type QueueClearResult struct {
	Removed int `json:"removed"`
}

func (r QueueClearResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "removed %d queued mutation(s)\n", r.Removed)
	return err
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear the durable queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued mutations in drain order",
		Long: `List queued mutations in the order a drain would attempt them:
priority first, then oldest first.

Example:
  habitsync queue list
  habitsync queue list --kind counter_update --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "only mutations of this kind")
	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "", "only mutations of this priority")

	return cmd
}

func runQueueList(opts *QueueOptions, cmd *cobra.Command) error {
	if opts.Kind != "" && opts.Priority != "" {
		return NewExitError(ExitCommandError, "use at most one of --kind and --priority")
	}

	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var ms []mutation.QueuedMutation
	switch {
	case opts.Kind != "":
		ms, err = rt.store.ListByKind(ctx, mutation.NormalizeKind(opts.Kind))
	case opts.Priority != "":
		p, perr := mutation.ParsePriority(opts.Priority)
		if perr != nil {
			return WrapExitError(ExitCommandError, "invalid priority", perr)
		}
		ms, err = rt.store.ListByPriority(ctx, p)
	default:
		ms, err = rt.store.List(ctx)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list queue", err)
	}
	mutation.Sort(ms)

	result := QueueListResult{Count: len(ms), Mutations: make([]QueueItem, 0, len(ms))}
	for _, m := range ms {
		result.Mutations = append(result.Mutations, QueueItem{
			ID:         m.ID,
			Target:     m.Target,
			Method:     m.Method,
			Priority:   m.Priority,
			Kind:       m.Kind,
			RetryCount: m.RetryCount,
			EnqueuedAt: m.EnqueuedAt.UTC(),
			BodyBytes:  len(m.Body),
		})
	}

	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return out.Success(result)
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued mutation",
		Long: `Discard every queued mutation without delivering it.

Use this on sign-out. A running serve keeps retry timers for items it
has parked; prefer DELETE /v1/queue on the server when one is running.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := rt.store.Clear(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to clear queue", err)
			}
			out := NewOutputFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return out.Success(QueueClearResult{Removed: n})
		},
	}
	return cmd
}
