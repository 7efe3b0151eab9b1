package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/habitsync/internal/config"
	"github.com/roach88/habitsync/internal/delivery"
	"github.com/roach88/habitsync/internal/engine"
	"github.com/roach88/habitsync/internal/store"
)

// runtime is the configuration, store and deliverer shared by commands.
type runtime struct {
	cfg       config.Config
	store     *store.Store
	deliverer *delivery.HTTP
}

// loadConfig reads --config and applies --db.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openRuntime loads config and opens the queue database.
func openRuntime(opts *RootOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return newRuntime(cfg)
}

func newRuntime(cfg config.Config) (*runtime, error) {
	slog.Debug("opening database", "database", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	d, err := delivery.NewHTTP(delivery.HTTPOptions{
		BaseURL: cfg.Endpoint.BaseURL,
		Timeout: cfg.EndpointTimeout(),
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid endpoint", err)
	}

	return &runtime{cfg: cfg, store: st, deliverer: d}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// newEngine builds a coordinator from the runtime's config.
func (rt *runtime) newEngine(extra ...engine.Option) (*engine.Engine, error) {
	schemas, err := rt.cfg.Schemas()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load payload schemas", err)
	}
	if n := schemas.Len(); n > 0 {
		slog.Debug("payload schemas loaded", "count", n)
	}

	opts := []engine.Option{
		engine.WithRetryPolicy(rt.cfg.RetryPolicy()),
		engine.WithSchemas(schemas),
	}
	eng, err := engine.New(rt.store, rt.deliverer, append(opts, extra...)...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return eng, nil
}

// signalContext derives a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends (tests).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
