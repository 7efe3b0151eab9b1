package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/habitsync/internal/engine"
	"github.com/roach88/habitsync/internal/mutation"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Method   string
	Headers  []string
	Body     string
	BodyFile string
	Priority string
	Kind     string

	// IDs allows overriding the mutation ID generator (for testing).
	IDs mutation.IDGenerator
}

// EnqueueResult is the output of enqueue.
type EnqueueResult struct {
	ID       string            `json:"id"`
	Target   string            `json:"target"`
	Method   string            `json:"method"`
	Priority mutation.Priority `json:"priority"`
	Kind     mutation.Kind     `json:"kind"`
}

func (r EnqueueResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "queued %s %s %s (priority=%s kind=%s)\n", r.ID, r.Method, r.Target, r.Priority, r.Kind)
	return err
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <target>",
		Short: "Queue a mutation for delivery",
		Long: `Persist a mutation in the durable queue.

Nothing is delivered by this command; a running serve or bridge picks the
mutation up on its next drain. Relative targets resolve against
endpoint.base_url at delivery time.

Example:
  habitsync enqueue /api/habits/42/logs --body '{"count":1}' --priority high --kind reminder_log
  habitsync enqueue https://api.example.com/counters/7 -X PUT -H 'Content-Type: application/json' --body-file counter.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Method, "method", "X", "POST", "HTTP method")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "header as 'Name: value' (repeatable, order kept)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "request body")
	cmd.Flags().StringVar(&opts.BodyFile, "body-file", "", "read request body from file")
	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "medium", "priority (high|medium|low)")
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "general", "mutation kind")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, target string, cmd *cobra.Command) error {
	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid header", err)
	}
	priority, err := mutation.ParsePriority(opts.Priority)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid priority", err)
	}

	var body []byte
	switch {
	case opts.Body != "" && opts.BodyFile != "":
		return NewExitError(ExitCommandError, "use either --body or --body-file")
	case opts.BodyFile != "":
		body, err = os.ReadFile(opts.BodyFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read body file", err)
		}
	case opts.Body != "":
		body = []byte(opts.Body)
	}

	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	engOpts := []engine.Option{engine.WithDrainOnEnqueue(false)}
	if opts.IDs != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDs))
	}
	eng, err := rt.newEngine(engOpts...)
	if err != nil {
		return err
	}

	m, err := eng.Enqueue(cmd.Context(), mutation.Request{
		Target:   target,
		Method:   opts.Method,
		Headers:  headers,
		Body:     body,
		Priority: priority,
		Kind:     mutation.Kind(opts.Kind),
	})
	if err != nil {
		if errors.Is(err, mutation.ErrInvalidPayload) || errors.Is(err, mutation.ErrTargetRequired) {
			return WrapExitError(ExitFailure, "mutation rejected", err)
		}
		return WrapExitError(ExitFailure, "failed to queue mutation", err)
	}

	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	out.VerboseLog("queued %s in %s (%d body bytes, %d headers)", m.ID, rt.cfg.Database, len(m.Body), len(m.Headers))
	return out.Success(EnqueueResult{
		ID:       m.ID,
		Target:   m.Target,
		Method:   m.Method,
		Priority: m.Priority,
		Kind:     m.Kind,
	})
}

// parseHeaders splits "Name: value" pairs, keeping order.
func parseHeaders(raw []string) ([]mutation.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make([]mutation.Header, 0, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%q is not 'Name: value'", h)
		}
		headers = append(headers, mutation.Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return headers, nil
}
