package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/habitsync/internal/bridge"
	"github.com/roach88/habitsync/internal/connectivity"
	"github.com/roach88/habitsync/internal/engine"
	"github.com/roach88/habitsync/internal/httpapi"
	"github.com/roach88/habitsync/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen  string
	Offline bool

	// Ready, when set, receives the bound API address once serving (tests).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the foreground sync engine",
		Long: `Run the foreground sync engine with its observer/admin API.

serve holds <database>.lock so only one foreground engine drives a store.
It drains leftovers from a previous run, follows connectivity through the
configured probe, and refreshes status when the background bridge signals
a completed batch.

Example:
  habitsync serve --config ./habitsync.yaml
  habitsync serve --db ./queue.db --listen 127.0.0.1:9000 --offline`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "API listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "start in the offline state")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	if path := cfg.LockPath(); path != "" {
		lock := flock.New(path)
		locked, err := lock.TryLock()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to acquire lock", err)
		}
		if !locked {
			return NewExitError(ExitCommandError, fmt.Sprintf("another habitsync serve holds %s", path))
		}
		defer lock.Unlock()
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	eng, err := rt.newEngine(
		engine.WithMetrics(metrics.NewPrometheus(reg)),
		engine.WithInitialOnline(!opts.Offline),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start engine", err)
	}

	observer := connectivity.NewObserver(!opts.Offline)
	observer.OnChange(eng.SetOnline)

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("background task failed", "task", name, "error", err)
			}
		}()
	}

	if cfg.Probe.URL != "" {
		prober, err := connectivity.NewProber(observer, connectivity.ProberOptions{
			URL:      cfg.Probe.URL,
			Interval: cfg.ProbeInterval(),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid probe", err)
		}
		goRun("prober", prober.Run)
	}

	if path := cfg.SignalPath(); path != "" {
		watcher, err := bridge.NewFileWatcher(path)
		if err != nil {
			slog.Warn("bridge signals unavailable", "path", path, "error", err)
		} else {
			goRun("signal-watch", func(ctx context.Context) error {
				return watcher.Run(ctx, eng.HandleBatchCompleted)
			})
		}
	}

	api := httpapi.NewServer(eng, httpapi.Options{
		Lookup:       rt.store,
		Connectivity: observer,
		Gatherer:     reg,
	})
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		cancel()
		wg.Wait()
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
	goRun("api", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	goRun("initial-drain", func(ctx context.Context) error {
		eng.DrainAll(ctx)
		return nil
	})

	addr := ln.Addr().String()
	slog.Info("habitsync serving", "listen", addr, "database", cfg.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "habitsync serving on http://%s\n", addr)
	if opts.Ready != nil {
		opts.Ready <- addr
	}

	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api shutdown", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Warn("engine shutdown", "error", err)
	}
	wg.Wait()

	slog.Info("habitsync stopped")
	return nil
}
