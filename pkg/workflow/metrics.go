package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the workflow executor.
// A nil *Metrics is valid; all record methods become no-ops.
type Metrics struct {
	executions  *prometheus.CounterVec
	stepRetries *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with Prometheus collectors
// registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		executions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_workflow_executions_total",
				Help: "Total workflow executions finished by type and outcome",
			},
			[]string{"type", "outcome"},
		),

		stepRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_workflow_step_retries_total",
				Help: "Total workflow step attempts that failed and were retried",
			},
			[]string{"type", "step"},
		),

		deadLetters: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_workflow_dead_letters_total",
				Help: "Total executions routed to the dead-letter table",
			},
			[]string{"type"},
		),
	}
}

// RecordExecution records one finished execution.
func (m *Metrics) RecordExecution(wfType, outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(wfType, outcome).Inc()
}

// RecordStepRetry records one failed step attempt.
func (m *Metrics) RecordStepRetry(wfType, step string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(wfType, step).Inc()
}

// RecordDeadLetter records one dead-lettered execution.
func (m *Metrics) RecordDeadLetter(wfType string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(wfType).Inc()
}
