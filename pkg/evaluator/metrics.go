package evaluator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the evaluator.
// A nil *Metrics is valid; all record methods become no-ops.
type Metrics struct {
	monitoredPrincipals prometheus.Gauge
	exceededPrincipals  prometheus.Gauge
	scanDuration        prometheus.Histogram

	alerts              *prometheus.CounterVec
	graceStarts         prometheus.Counter
	suspensionRequests  prometheus.Counter
	restorationRequests prometheus.Counter
	periodsRolled       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with Prometheus collectors
// registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		monitoredPrincipals: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spendgate_evaluator_monitored_principals",
				Help: "Number of principals covered by the last threshold scan",
			},
		),

		exceededPrincipals: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spendgate_evaluator_exceeded_principals",
				Help: "Number of principals over budget in the last threshold scan",
			},
		),

		scanDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spendgate_evaluator_scan_duration_seconds",
				Help:    "Duration of threshold scans",
				Buckets: prometheus.DefBuckets,
			},
		),

		alerts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_evaluator_alerts_total",
				Help: "Total threshold alerts sent by level",
			},
			[]string{"level"},
		),

		graceStarts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spendgate_evaluator_grace_periods_total",
				Help: "Total grace periods started",
			},
		),

		suspensionRequests: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spendgate_evaluator_suspension_requests_total",
				Help: "Total suspension requests enqueued",
			},
		),

		restorationRequests: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spendgate_evaluator_restoration_requests_total",
				Help: "Total restoration requests enqueued",
			},
		),

		periodsRolled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spendgate_evaluator_periods_rolled_total",
				Help: "Total active budget periods rolled over in place",
			},
		),
	}
}

// RecordScan records the outcome of one threshold scan.
func (m *Metrics) RecordScan(monitored, exceeded int, duration time.Duration) {
	if m == nil {
		return
	}
	m.monitoredPrincipals.Set(float64(monitored))
	m.exceededPrincipals.Set(float64(exceeded))
	m.scanDuration.Observe(duration.Seconds())
}

// RecordAlert records one sent threshold alert.
func (m *Metrics) RecordAlert(level string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(level).Inc()
}

// RecordGraceStart records one grace period entry.
func (m *Metrics) RecordGraceStart() {
	if m == nil {
		return
	}
	m.graceStarts.Inc()
}

// RecordSuspensionRequest records one enqueued suspension request.
func (m *Metrics) RecordSuspensionRequest() {
	if m == nil {
		return
	}
	m.suspensionRequests.Inc()
}

// RecordRestorationRequest records one enqueued restoration request.
func (m *Metrics) RecordRestorationRequest() {
	if m == nil {
		return
	}
	m.restorationRequests.Inc()
}

// RecordPeriodsRolled records budget periods rolled over by one
// refresh scan.
func (m *Metrics) RecordPeriodsRolled(n int) {
	if m == nil {
		return
	}
	m.periodsRolled.Add(float64(n))
}
