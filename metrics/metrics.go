// Package metrics holds the Prometheus collectors of the document engine.
//
// Collectors are registered on the Registerer passed to New, never on the
// global default, so tests can use a fresh prometheus.NewRegistry. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "staffdocs"

type Metrics struct {
	transitions *prometheus.CounterVec
	allocations *prometheus.CounterVec
	validations *prometheus.CounterVec
	dispatch    *prometheus.CounterVec

	allocationLatency *prometheus.HistogramVec

	staleDocuments prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of document status operations.",
		}, []string{"from", "to", "result"}),
		allocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Total number of date allocation requests.",
		}, []string{"mode", "result"}),
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of validations by outcome.",
		}, []string{"result"}),
		dispatch: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total number of post-commit jobs by kind and outcome.",
		}, []string{"kind", "result"}),
		allocationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Latency distribution for date allocation.",
			Buckets: []float64{
				0.0005, 0.001, 0.005,
				0.01, 0.05, 0.1,
				0.5, 1,
			},
		}, []string{"mode"}),
		staleDocuments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_documents",
			Help:      "Stale documents found by the last scan.",
		}),
	}
}

func (m *Metrics) Transition(from, to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, result).Inc()
}

func (m *Metrics) Allocation(mode, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(mode, result).Inc()
	m.allocationLatency.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) Validation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Metrics) Dispatch(kind, result string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) StaleDocuments(n int) {
	if m == nil {
		return
	}
	m.staleDocuments.Set(float64(n))
}
