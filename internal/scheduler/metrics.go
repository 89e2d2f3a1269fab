package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
)

var executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kafka_ops_agent",
	Subsystem: "scheduler",
	Name:      "task_executions_total",
	Help:      "Task executions by task type and outcome.",
}, []string{"task_type", "outcome"})

func observeExecution(taskType domain.TaskType, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	executionsTotal.WithLabelValues(string(taskType), outcome).Inc()
}
