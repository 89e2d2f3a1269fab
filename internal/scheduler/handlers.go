package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/storage"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/topics"
)

// schedulerUser tags audit entries written by scheduled maintenance.
const schedulerUser = "scheduler"

// TopicManager is the slice of the topic service the cleanup and
// health handlers need.
type TopicManager interface {
	ListTopics(ctx context.Context, instanceID string, includeInternal bool, userID string) ([]string, error)
	DescribeTopic(ctx context.Context, instanceID, name, userID string) (*domain.TopicDescription, error)
	DeleteTopic(ctx context.Context, instanceID, name, userID string) (*topics.OperationResult, error)
	GetClusterInfo(ctx context.Context, instanceID string) (*domain.ClusterInfo, error)
}

// InstanceJanitor is the slice of the orchestrator the cluster-cleanup
// handler needs.
type InstanceJanitor interface {
	ListInstances(ctx context.Context, filters storage.InstanceFilters) ([]*domain.ServiceInstance, error)
	CleanupInstance(ctx context.Context, instanceID string) error
}

func paramString(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func paramInt(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func paramBool(params map[string]interface{}, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func targetCluster(task *domain.ScheduledTask) (string, error) {
	cluster := task.TargetCluster
	if cluster == "" {
		cluster = paramString(task.Parameters, "target_cluster", "")
	}
	if cluster == "" {
		return "", errors.New(errors.CodeValidation, "task has no target cluster")
	}
	return cluster, nil
}

// TopicCleanupHandler deletes (or, in dry-run, reports) topics whose
// name matches retention_pattern or whose retention.ms is shorter than
// max_age_hours.
func TopicCleanupHandler(manager TopicManager) Handler {
	return func(ctx context.Context, task *domain.ScheduledTask, execution *domain.TaskExecution) (map[string]interface{}, error) {
		cluster, err := targetCluster(task)
		if err != nil {
			return nil, err
		}
		maxAgeHours := paramInt(task.Parameters, "max_age_hours", 168)
		dryRun := paramBool(task.Parameters, "dry_run", true)

		var pattern *regexp.Regexp
		if raw := paramString(task.Parameters, "retention_pattern", ""); raw != "" {
			pattern, err = regexp.Compile(raw)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeValidation, "invalid retention_pattern")
			}
		}

		names, err := manager.ListTopics(ctx, cluster, false, schedulerUser)
		if err != nil {
			return nil, err
		}
		execution.AppendLog(fmt.Sprintf("evaluating %d topics on %s", len(names), cluster))

		maxAgeMs := int64(maxAgeHours) * int64(time.Hour/time.Millisecond)
		var candidates []string
		for _, name := range names {
			if pattern != nil && pattern.MatchString(name) {
				candidates = append(candidates, name)
				continue
			}
			description, err := manager.DescribeTopic(ctx, cluster, name, schedulerUser)
			if err != nil || description == nil {
				continue
			}
			if raw, ok := description.Configs["retention.ms"]; ok {
				if retention, err := strconv.ParseInt(raw, 10, 64); err == nil && retention > 0 && retention < maxAgeMs {
					candidates = append(candidates, name)
				}
			}
		}

		cleaned := 0
		if !dryRun {
			for _, name := range candidates {
				if _, err := manager.DeleteTopic(ctx, cluster, name, schedulerUser); err != nil {
					execution.AppendLog(fmt.Sprintf("delete %s failed: %v", name, err))
					continue
				}
				cleaned++
			}
		}

		return map[string]interface{}{
			"topics_evaluated":  len(names),
			"topics_identified": len(candidates),
			"topics_cleaned":    cleaned,
			"dry_run":           dryRun,
			"topics_to_cleanup": candidates,
		}, nil
	}
}

// ClusterCleanupHandler removes instances stuck in error longer than
// max_age_hours.
func ClusterCleanupHandler(janitor InstanceJanitor) Handler {
	return func(ctx context.Context, task *domain.ScheduledTask, execution *domain.TaskExecution) (map[string]interface{}, error) {
		maxAgeHours := paramInt(task.Parameters, "max_age_hours", 24)
		dryRun := paramBool(task.Parameters, "dry_run", true)
		threshold := time.Now().UTC().Add(-time.Duration(maxAgeHours) * time.Hour)

		failed, err := janitor.ListInstances(ctx, storage.InstanceFilters{Status: domain.InstanceStatusError})
		if err != nil {
			return nil, err
		}

		var old []*domain.ServiceInstance
		for _, instance := range failed {
			if instance.UpdatedAt.Before(threshold) {
				old = append(old, instance)
			}
		}
		execution.AppendLog(fmt.Sprintf("%d failed instances, %d older than %dh", len(failed), len(old), maxAgeHours))

		cleaned := 0
		if !dryRun {
			for _, instance := range old {
				if err := janitor.CleanupInstance(ctx, instance.InstanceID); err != nil {
					execution.AppendLog(fmt.Sprintf("cleanup %s failed: %v", instance.InstanceID, err))
					continue
				}
				cleaned++
			}
		}

		return map[string]interface{}{
			"failed_instances":     len(failed),
			"old_failed_instances": len(old),
			"cleaned_instances":    cleaned,
			"dry_run":              dryRun,
		}, nil
	}
}

// HealthCheckHandler probes the target cluster and records its shape.
func HealthCheckHandler(manager TopicManager) Handler {
	return func(ctx context.Context, task *domain.ScheduledTask, execution *domain.TaskExecution) (map[string]interface{}, error) {
		cluster, err := targetCluster(task)
		if err != nil {
			return nil, err
		}

		info, err := manager.GetClusterInfo(ctx, cluster)
		if err != nil {
			execution.AppendLog(fmt.Sprintf("cluster %s not accessible: %v", cluster, err))
			return map[string]interface{}{
				"cluster_accessible": false,
				"broker_count":       0,
				"topic_count":        0,
			}, nil
		}
		return map[string]interface{}{
			"cluster_accessible": true,
			"broker_count":       info.BrokerCount,
			"topic_count":        info.TopicCount,
		}, nil
	}
}
