package costs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the costs package.
// A nil *Metrics is valid; all record methods become no-ops.
type Metrics struct {
	ingested  *prometheus.CounterVec
	costTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with Prometheus collectors
// registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ingested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_costs_ingested_total",
				Help: "Total number of usage records processed by result",
			},
			[]string{"result"},
		),

		costTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendgate_costs_usd_total",
				Help: "Total attributed cost in USD by model and pricing source",
			},
			[]string{"model_id", "pricing_source"},
		),
	}
}

// RecordIngest records one processed usage record.
// result is one of ok, duplicate, rejected, error.
func (m *Metrics) RecordIngest(result string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(result).Inc()
}

// RecordCost adds an attributed cost to the running total.
func (m *Metrics) RecordCost(modelID, pricingSource string, costUSD float64) {
	if m == nil {
		return
	}
	m.costTotal.WithLabelValues(modelID, pricingSource).Add(costUSD)
}
