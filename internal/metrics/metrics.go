// Package metrics exposes Prometheus collectors for the harvester pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's Prometheus collectors. Collectors are
// registered against the injected registerer so tests can use a private
// registry.
type Metrics struct {
	FetchTotal        *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	ModeSwitches      *prometheus.CounterVec
	RoundsPerProduct  prometheus.Histogram
	FieldOutcomes     *prometheus.CounterVec
	IdentityDecisions *prometheus.CounterVec
	BreakerEvents     *prometheus.CounterVec
	FrontierSkips     *prometheus.CounterVec
}

// New creates and registers the pipeline collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spechawk",
			Name:      "fetch_total",
			Help:      "Fetches by mode and status class.",
		}, []string{"mode", "status_class"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spechawk",
			Name:      "fetch_duration_seconds",
			Help:      "Fetch latency by mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		ModeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spechawk",
			Name:      "fetcher_mode_switches_total",
			Help:      "One-way fetcher fallback transitions.",
		}, []string{"from", "to", "reason"}),
		RoundsPerProduct: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spechawk",
			Name:      "convergence_rounds",
			Help:      "Rounds executed per product run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12},
		}),
		FieldOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spechawk",
			Name:      "field_outcomes_total",
			Help:      "Consensus field outcomes by status.",
		}, []string{"status"}),
		IdentityDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spechawk",
			Name:      "identity_decisions_total",
			Help:      "Per-page identity gate decisions.",
		}, []string{"decision"}),
		BreakerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spechawk",
			Name:      "provider_breaker_events_total",
			Help:      "Circuit breaker state changes by provider.",
		}, []string{"provider", "state"}),
		FrontierSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spechawk",
			Name:      "frontier_skips_total",
			Help:      "URLs and queries skipped by the frontier, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.FetchTotal,
		m.FetchDuration,
		m.ModeSwitches,
		m.RoundsPerProduct,
		m.FieldOutcomes,
		m.IdentityDecisions,
		m.BreakerEvents,
		m.FrontierSkips,
	)

	return m
}

// StatusClass buckets an HTTP status for the fetch counter.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "timeout"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
