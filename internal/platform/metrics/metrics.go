// Package metrics holds the Prometheus instruments for the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Registrations    prometheus.Counter
	RefreshOutcomes  *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New creates and registers all metrics against the given registerer. Tests
// pass a fresh registry so repeated construction never double-registers.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "oaphub_registrations_total",
			Help: "Total number of successful app registrations",
		}),
		RefreshOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oaphub_refresh_outcomes_total",
			Help: "Refresh cycle outcomes by resulting action",
		}, []string{"outcome"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oaphub_fetch_failures_total",
			Help: "Outbound fetch failures by reason",
		}, []string{"reason"}),
		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oaphub_rate_limit_denials_total",
			Help: "Requests denied by the per-endpoint rate limiters",
		}, []string{"endpoint"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oaphub_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// IncrementRegistrations increments the registration counter by 1.
func (m *Metrics) IncrementRegistrations() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

// ObserveRefreshOutcome records one refresh cycle outcome.
func (m *Metrics) ObserveRefreshOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RefreshOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveFetchFailure records one outbound fetch failure by reason.
func (m *Metrics) ObserveFetchFailure(reason string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(reason).Inc()
}

// ObserveRateLimitDenial records one denied request for an endpoint group.
func (m *Metrics) ObserveRateLimitDenial(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitDenials.WithLabelValues(endpoint).Inc()
}
