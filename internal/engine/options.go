package engine

import (
	"github.com/roach88/habitsync/internal/clock"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/retry"
)

type config struct {
	scheduler      clock.Scheduler
	policy         retry.Policy
	ids            mutation.IDGenerator
	schemas        *mutation.SchemaRegistry
	metrics        Metrics
	notifier       Notifier
	online         bool
	drainOnEnqueue bool
}

func defaultConfig() config {
	return config{
		scheduler:      clock.System{},
		policy:         retry.DefaultPolicy(),
		ids:            mutation.UUIDv7Generator{},
		metrics:        NopMetrics{},
		notifier:       logNotifier{},
		online:         true,
		drainOnEnqueue: true,
	}
}

// Option configures an Engine.
type Option func(*config)

// WithScheduler sets the clock and timer source (tests use a fake).
func WithScheduler(s clock.Scheduler) Option {
	return func(c *config) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithRetryPolicy sets the retry ceiling and backoff schedule.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithIDGenerator sets the mutation ID source.
func WithIDGenerator(g mutation.IDGenerator) Option {
	return func(c *config) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithSchemas enables per-kind payload validation at enqueue time.
func WithSchemas(r *mutation.SchemaRegistry) Option {
	return func(c *config) {
		c.schemas = r
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithNotifier sets where user-visible notices go. Default: slog.
func WithNotifier(n Notifier) Option {
	return func(c *config) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithInitialOnline sets the connectivity state assumed before the first
// signal arrives. Default: online.
func WithInitialOnline(online bool) Option {
	return func(c *config) {
		c.online = online
	}
}

// WithDrainOnEnqueue controls whether a successful Enqueue while online
// requests a background drain. Default: true.
func WithDrainOnEnqueue(enabled bool) Option {
	return func(c *config) {
		c.drainOnEnqueue = enabled
	}
}
