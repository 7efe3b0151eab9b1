// Package metrics exports engine telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/habitsync/internal/mutation"
)

// Prometheus implements engine.Metrics on a caller-supplied registry.
type Prometheus struct {
	enqueued      *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	retried       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	queued        prometheus.Gauge
	drainDuration prometheus.Histogram
}

// NewPrometheus registers the habitsync collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "habitsync_mutations_enqueued_total",
			Help: "Mutations accepted into the durable queue",
		}, []string{"kind"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "habitsync_mutations_delivered_total",
			Help: "Mutations delivered and removed from the queue",
		}, []string{"kind"}),
		retried: f.NewCounterVec(prometheus.CounterOpts{
			Name: "habitsync_mutations_retried_total",
			Help: "Failed delivery attempts that were rescheduled",
		}, []string{"kind"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "habitsync_mutations_dropped_total",
			Help: "Mutations abandoned after exhausting the retry budget",
		}, []string{"kind"}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "habitsync_queue_depth",
			Help: "Mutations currently in the durable queue",
		}),
		drainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "habitsync_drain_duration_seconds",
			Help:    "Wall time a drain held the single-flight flag",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
	}
}

func (p *Prometheus) AddEnqueued(kind mutation.Kind) {
	p.enqueued.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) AddDelivered(kind mutation.Kind) {
	p.delivered.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) AddRetried(kind mutation.Kind) {
	p.retried.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) AddDropped(kind mutation.Kind) {
	p.dropped.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) SetQueued(count int) {
	p.queued.Set(float64(count))
}

func (p *Prometheus) ObserveDrainDuration(d time.Duration) {
	p.drainDuration.Observe(d.Seconds())
}
