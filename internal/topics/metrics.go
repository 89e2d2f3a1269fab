package topics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_ops_agent",
		Subsystem: "topics",
		Name:      "operations_total",
		Help:      "Topic operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka_ops_agent",
		Subsystem: "topics",
		Name:      "operation_duration_seconds",
		Help:      "Topic operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func observe(operation string, err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(seconds)
}
