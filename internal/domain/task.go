package domain

import "time"

// TaskType enumerates the maintenance work the scheduler can run.
type TaskType string

const (
	TaskTopicCleanup    TaskType = "topic-cleanup"
	TaskClusterCleanup  TaskType = "cluster-cleanup"
	TaskHealthCheck     TaskType = "health-check"
	TaskMetadataCleanup TaskType = "metadata-cleanup"
	TaskCustom          TaskType = "custom"
)

// ScheduledTask is one recurring maintenance job.
type ScheduledTask struct {
	TaskID         string                 `json:"task_id"`
	TaskType       TaskType               `json:"task_type"`
	CronExpression string                 `json:"cron_expression"`
	Enabled        bool                   `json:"enabled"`
	TargetCluster  string                 `json:"target_cluster,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	NextRun        time.Time              `json:"next_run"`
	LastRun        *time.Time             `json:"last_run,omitempty"`
	RunCount       int64                  `json:"run_count"`
	FailureCount   int64                  `json:"failure_count"`
}

// ExecutionStatus is the lifecycle state of one task execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// TaskExecution records one run of a scheduled or on-demand task.
type TaskExecution struct {
	ExecutionID  string                 `json:"execution_id"`
	TaskID       string                 `json:"task_id"`
	Status       ExecutionStatus        `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Logs         []string               `json:"logs,omitempty"`
}

// AppendLog adds one ordered log line to the execution record.
func (e *TaskExecution) AppendLog(line string) {
	e.Logs = append(e.Logs, line)
}
