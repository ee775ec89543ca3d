// Package metrics exposes bootstrap-local Prometheus metrics. The platform
// has its own invocation accounting; these exist for operators running the
// runtime under an emulator or scraping the environment directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oriys/pulsar/internal/logging"
)

// Outcome labels for the invocation counter.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeLost    = "lost" // result could not be posted to the control plane
)

// Metrics wraps the prometheus collectors for the bootstrap.
type Metrics struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	pollFailuresTotal  prometheus.Counter
	invocationDuration prometheus.Histogram
	coldStartDuration  prometheus.Gauge
}

// Duration buckets in milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// New builds and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsar",
			Name:      "invocations_total",
			Help:      "Invocations served, by outcome.",
		}, []string{"outcome"}),
		pollFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsar",
			Name:      "poll_failures_total",
			Help:      "Transport failures while polling for the next invocation.",
		}),
		invocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pulsar",
			Name:      "invocation_duration_ms",
			Help:      "Handler execution time in milliseconds.",
			Buckets:   defaultBuckets,
		}),
		coldStartDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsar",
			Name:      "cold_start_duration_ms",
			Help:      "Time spent in cold-start initialization.",
		}),
	}

	m.registry.MustRegister(
		m.invocationsTotal,
		m.pollFailuresTotal,
		m.invocationDuration,
		m.coldStartDuration,
	)
	return m
}

// RecordInvocation counts one finished invocation.
func (m *Metrics) RecordInvocation(outcome string, duration time.Duration) {
	m.invocationsTotal.WithLabelValues(outcome).Inc()
	m.invocationDuration.Observe(float64(duration.Milliseconds()))
}

// RecordPollFailure counts one failed poll.
func (m *Metrics) RecordPollFailure() {
	m.pollFailuresTotal.Inc()
}

// RecordColdStart records the cold-start duration.
func (m *Metrics) RecordColdStart(duration time.Duration) {
	m.coldStartDuration.Set(float64(duration.Milliseconds()))
}

// Gather exposes the raw metric families, for tests.
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			name := fam.GetName()
			for _, lbl := range metric.GetLabel() {
				name += "{" + lbl.GetName() + "=" + lbl.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[name] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// Serve exposes /metrics on addr in a background goroutine. Failures are
// logged, never fatal; metrics are an operator convenience.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Op().Warn("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}
