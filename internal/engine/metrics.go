package engine

import (
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

// Metrics captures engine-level telemetry.
type Metrics interface {
	// AddEnqueued counts a mutation accepted into the store.
	AddEnqueued(kind mutation.Kind)
	// AddDelivered counts a successful delivery.
	AddDelivered(kind mutation.Kind)
	// AddRetried counts a failed attempt that was rescheduled.
	AddRetried(kind mutation.Kind)
	// AddDropped counts a terminal failure.
	AddDropped(kind mutation.Kind)
	// SetQueued updates the current queue depth.
	SetQueued(count int)
	// ObserveDrainDuration records the time a drain held the single-flight flag.
	ObserveDrainDuration(duration time.Duration)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// AddEnqueued implements Metrics.
func (NopMetrics) AddEnqueued(mutation.Kind) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(mutation.Kind) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(mutation.Kind) {}

// AddDropped implements Metrics.
func (NopMetrics) AddDropped(mutation.Kind) {}

// SetQueued implements Metrics.
func (NopMetrics) SetQueued(int) {}

// ObserveDrainDuration implements Metrics.
func (NopMetrics) ObserveDrainDuration(time.Duration) {}
