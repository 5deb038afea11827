package pricing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the pricing package.
// A nil *Metrics is valid; all record methods become no-ops.
type Metrics struct {
	resolutions *prometheus.CounterVec
	fetchErrors prometheus.Counter
	refreshRuns *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with Prometheus collectors
// registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_pricing_resolutions_total",
				Help: "Total number of rate resolutions by serving tier",
			},
			[]string{"source"},
		),

		fetchErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spendgate_pricing_fetch_errors_total",
				Help: "Total number of failed upstream pricing feed fetches",
			},
		),

		refreshRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_pricing_refresh_runs_total",
				Help: "Total number of scheduled pricing refresh runs by result",
			},
			[]string{"result"},
		),
	}
}

// RecordResolution records a rate resolution served by the given tier.
func (m *Metrics) RecordResolution(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
}

// RecordFetchError records a failed upstream feed fetch.
func (m *Metrics) RecordFetchError() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}

// RecordRefreshRun records a completed scheduled refresh run.
func (m *Metrics) RecordRefreshRun(result string) {
	if m == nil {
		return
	}
	m.refreshRuns.WithLabelValues(result).Inc()
}
