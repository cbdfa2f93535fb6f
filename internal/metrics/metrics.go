// Package metrics exposes Prometheus instrumentation for a client session.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for event ingestion, the transaction
// tracker and registry queries. Each instance owns its registry so several
// sessions (and tests) can coexist in one process.
//
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Event batches and events ingested, by stream
	Batches *prometheus.CounterVec
	Events  *prometheus.CounterVec

	// Tracker transitions by target phase
	Transitions *prometheus.CounterVec

	// Registry queries by outcome ("exists", "absent", "error")
	Queries *prometheus.CounterVec

	// Query latency
	QueryLatency prometheus.Histogram

	// Events queued for the consumer loop
	QueueDepth prometheus.Gauge
}

// New creates a Metrics instance with all session metrics registered on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lienwatch_event_batches_total",
			Help: "Event batches ingested by stream",
		}, []string{"stream"}),

		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lienwatch_events_total",
			Help: "Events ingested by stream",
		}, []string{"stream"}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lienwatch_tracker_transitions_total",
			Help: "Transaction tracker transitions by target phase",
		}, []string{"phase"}),

		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lienwatch_registry_queries_total",
			Help: "checkMortgage queries by outcome",
		}, []string{"outcome"}),

		QueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lienwatch_registry_query_duration_seconds",
			Help:    "Duration of checkMortgage queries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lienwatch_event_queue_depth",
			Help: "Events waiting for the session consumer",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBatch records one ingested batch of n events.
func (m *Metrics) ObserveBatch(stream string, n int) {
	if m != nil {
		m.Batches.WithLabelValues(stream).Inc()
		m.Events.WithLabelValues(stream).Add(float64(n))
	}
}

// IncrementTransition records a tracker transition into phase.
func (m *Metrics) IncrementTransition(phase string) {
	if m != nil {
		m.Transitions.WithLabelValues(phase).Inc()
	}
}

// ObserveQuery records a registry query outcome and its duration.
func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m != nil {
		m.Queries.WithLabelValues(outcome).Inc()
		m.QueryLatency.Observe(d.Seconds())
	}
}

// SetQueueDepth records the consumer queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
