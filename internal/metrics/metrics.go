// Package metrics wraps the Prometheus collectors exposed at GET /metrics
// when METRICS_ENABLED is true.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the bridge exports. A nil *Registry is
// safe to call methods on (all become no-ops), so callers don't need to
// branch on METRICS_ENABLED at every call site.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth           prometheus.Gauge
	AdmissionOutcomes    *prometheus.CounterVec
	PollIterationsTotal  prometheus.Counter
	PollStableReached    prometheus.Counter
	UIErrorsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// New builds a fresh registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Number of requests currently waiting in the bounded FIFO queue.",
		}),
		AdmissionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_admission_outcomes_total",
			Help: "Admission decisions by outcome (admitted, joined, rejected).",
		}, []string{"outcome"}),
		PollIterationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_poll_iterations_total",
			Help: "Total poll-loop scrape iterations across all requests.",
		}),
		PollStableReached: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_poll_stable_reached_total",
			Help: "Total poll loops that reached the stability threshold and extracted a response.",
		}),
		UIErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_ui_errors_total",
			Help: "UI-detected errors by bridge error kind.",
		}, []string{"code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "End-to-end request duration by route.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"route"}),
	}
}

// Gatherer exposes the underlying prometheus.Gatherer for the /metrics
// HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.QueueDepth.Set(float64(n))
}

func (r *Registry) ObserveAdmission(outcome string) {
	if r == nil {
		return
	}
	r.AdmissionOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncPollIteration() {
	if r == nil {
		return
	}
	r.PollIterationsTotal.Inc()
}

func (r *Registry) IncPollStableReached() {
	if r == nil {
		return
	}
	r.PollStableReached.Inc()
}

func (r *Registry) ObserveUIError(code string) {
	if r == nil {
		return
	}
	r.UIErrorsTotal.WithLabelValues(code).Inc()
}

func (r *Registry) ObserveRequestDuration(route string, seconds float64) {
	if r == nil {
		return
	}
	r.RequestDuration.WithLabelValues(route).Observe(seconds)
}
