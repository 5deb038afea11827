package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegisterQueueDepth exposes the trigger queue depth as a gauge sampled
// on every scrape.
func RegisterQueueDepth(namespace string, depth func() float64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "queue_depth",
		Help:      "Number of trigger messages waiting in the durable queue.",
	}, depth)
}

// RegisterDeadLetterDepth exposes the workflow dead letter count as a
// gauge sampled on every scrape.
func RegisterDeadLetterDepth(namespace string, depth func() float64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "dead_letter_depth",
		Help:      "Number of executions parked in the dead letter queue.",
	}, depth)
}
