// Package topics implements topic management against running clusters:
// CRUD, config updates, retention-driven purge, and bulk operations.
package topics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/clients"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/resilience"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/storage"
)

// updatableConfigKeys are the only topic configs UpdateTopicConfig
// accepts.
var updatableConfigKeys = map[string]struct{}{
	"retention.ms":        {},
	"retention.bytes":     {},
	"cleanup.policy":      {},
	"compression.type":    {},
	"max.message.bytes":   {},
	"min.insync.replicas": {},
	"segment.ms":          {},
	"segment.bytes":       {},
	"delete.retention.ms": {},
}

// Purge temporary retention bounds, milliseconds.
const (
	purgeRetentionMin = 1
	purgeRetentionMax = 60000
)

// ConnectionProvider yields pooled admin connections. Implemented by
// clients.Pool.
type ConnectionProvider interface {
	Get(ctx context.Context, instanceID string) clients.AdminClient
}

// OperationResult is the uniform outcome of a topic operation.
type OperationResult struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	TopicName string                 `json:"topic_name,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// BulkResult maps topic name to its individual outcome.
type BulkResult struct {
	Outcomes   map[string]clients.TopicOutcome `json:"outcomes"`
	Total      int                             `json:"total"`
	Successful int                             `json:"successful"`
	Failed     int                             `json:"failed"`
}

// Service performs topic operations against provisioned clusters.
type Service struct {
	store    storage.Store
	pool     ConnectionProvider
	retry    resilience.RetryPolicy
	breakers *resilience.BreakerRegistry
	logger   *logrus.Logger

	// sleep is swapped in tests to avoid real purge waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates the topic service.
func NewService(store storage.Store, pool ConnectionProvider, logger *logrus.Logger) *Service {
	return &Service{
		store:    store,
		pool:     pool,
		retry:    resilience.DefaultRetryPolicy(),
		breakers: resilience.NewBreakerRegistry(resilience.DefaultBreakerSettings()),
		logger:   logger,
		sleep:    sleepContext,
	}
}

// ConfigureResilience replaces the retry policy and breaker settings
// applied to admin-client calls. One breaker is shared per cluster.
func (s *Service) ConfigureResilience(policy resilience.RetryPolicy, settings resilience.BreakerSettings) {
	s.retry = policy
	s.breakers = resilience.NewBreakerRegistry(settings)
}

// call routes one admin-client call through the cluster's breaker and
// the retry policy.
func (s *Service) call(ctx context.Context, instanceID string, fn func(ctx context.Context) error) error {
	breaker := s.breakers.Get("kafka:" + instanceID)
	return resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return breaker.Execute(ctx, fn)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// connection runs the shared pre-check: the instance must exist, be
// running, and have a pooled connection.
func (s *Service) connection(ctx context.Context, instanceID string) (clients.AdminClient, error) {
	instance, err := s.store.Get(ctx, instanceID)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeInstanceNotFound {
			return nil, errors.Newf(errors.CodeClusterNotAvailable, "cluster %s not found", instanceID)
		}
		return nil, err
	}
	if instance.Status != domain.InstanceStatusRunning {
		return nil, errors.Newf(errors.CodeClusterNotAvailable, "cluster %s is %s, not running", instanceID, instance.Status)
	}
	admin := s.pool.Get(ctx, instanceID)
	if admin == nil {
		return nil, errors.Newf(errors.CodeConnectionFailed, "no connection available for cluster %s", instanceID)
	}
	return admin, nil
}

// audit records the operation terminus; storage failures are logged,
// never surfaced.
func (s *Service) audit(ctx context.Context, instanceID, operation, userID string, details map[string]interface{}, err error) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["success"] = err == nil
	if err != nil {
		details["error"] = err.Error()
	}
	if logErr := s.store.Log(ctx, instanceID, operation, userID, details); logErr != nil {
		s.logger.WithError(logErr).WithField("operation", operation).Warn("cannot write audit entry")
	}
}

// CreateTopic validates and creates the topic, then applies non-default
// configs with a follow-up alter.
func (s *Service) CreateTopic(ctx context.Context, instanceID string, spec domain.TopicSpec, userID string) (result *OperationResult, err error) {
	start := time.Now()
	defer func() {
		observe("create", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_create", userID, map[string]interface{}{"topic": spec.Name}, err)
	}()

	if err = spec.Validate(); err != nil {
		return nil, err
	}
	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		return admin.CreateTopic(ctx, spec)
	}); err != nil {
		return nil, err
	}

	// CreateTopics carries the configs already; the follow-up alter
	// covers brokers that ignore configs on create.
	if configs := spec.KafkaConfigs(); len(configs) > 0 {
		alterErr := s.call(ctx, instanceID, func(ctx context.Context) error {
			return admin.AlterTopicConfigs(ctx, spec.Name, configs)
		})
		if alterErr != nil {
			s.logger.WithError(alterErr).WithField("topic", spec.Name).Warn("follow-up config alter failed")
		}
	}

	return &OperationResult{
		Success:   true,
		Message:   "topic created",
		TopicName: spec.Name,
		Details: map[string]interface{}{
			"partitions":         spec.Partitions,
			"replication_factor": spec.ReplicationFactor,
		},
	}, nil
}

// ListTopics enumerates topic names, hiding internal topics unless
// includeInternal.
func (s *Service) ListTopics(ctx context.Context, instanceID string, includeInternal bool, userID string) (names []string, err error) {
	start := time.Now()
	defer func() {
		observe("list", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_list", userID, map[string]interface{}{"include_internal": includeInternal}, err)
	}()

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	var all []string
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		var callErr error
		all, callErr = admin.ListTopics(ctx)
		return callErr
	}); err != nil {
		return nil, err
	}
	if includeInternal {
		return all, nil
	}
	names = make([]string, 0, len(all))
	for _, name := range all {
		if !strings.HasPrefix(name, domain.InternalTopicPrefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

// DescribeTopic returns the topic's observable state, or nil when the
// topic does not exist.
func (s *Service) DescribeTopic(ctx context.Context, instanceID, name, userID string) (description *domain.TopicDescription, err error) {
	start := time.Now()
	defer func() {
		observe("describe", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_describe", userID, map[string]interface{}{"topic": name}, err)
	}()

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	err = s.call(ctx, instanceID, func(ctx context.Context) error {
		var callErr error
		description, callErr = admin.DescribeTopic(ctx, name)
		return callErr
	})
	if err != nil && errors.CodeOf(err) == errors.CodeTopicNotFound {
		return nil, nil
	}
	return description, err
}

// UpdateTopicConfig alters topic configs, accepting only the updatable
// key set.
func (s *Service) UpdateTopicConfig(ctx context.Context, instanceID, name string, configs map[string]string, userID string) (result *OperationResult, err error) {
	start := time.Now()
	defer func() {
		observe("update_config", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_update_config", userID, map[string]interface{}{"topic": name, "configs": configs}, err)
	}()

	if len(configs) == 0 {
		return nil, errors.New(errors.CodeValidation, "no configs provided")
	}
	for key := range configs {
		if _, ok := updatableConfigKeys[key]; !ok {
			return nil, errors.Newf(errors.CodeInvalidTopicConfig, "config %q is not updatable", key)
		}
	}

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		return admin.AlterTopicConfigs(ctx, name, configs)
	}); err != nil {
		return nil, err
	}
	return &OperationResult{
		Success:   true,
		Message:   "topic config updated",
		TopicName: name,
		Details:   map[string]interface{}{"updated_keys": len(configs)},
	}, nil
}

// DeleteTopic removes the topic; a missing topic counts as success.
func (s *Service) DeleteTopic(ctx context.Context, instanceID, name, userID string) (result *OperationResult, err error) {
	start := time.Now()
	defer func() {
		observe("delete", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_delete", userID, map[string]interface{}{"topic": name}, err)
	}()

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		return admin.DeleteTopic(ctx, name)
	}); err != nil {
		if errors.CodeOf(err) == errors.CodeTopicNotFound {
			err = nil
			return &OperationResult{
				Success:   true,
				Message:   "topic already absent",
				TopicName: name,
			}, nil
		}
		return nil, err
	}
	return &OperationResult{Success: true, Message: "topic deleted", TopicName: name}, nil
}

// PurgeTopic drains a topic by briefly shrinking its retention window:
// save the current retention.ms, set the requested short retention,
// wait for the broker's log cleaner, then restore. A failed restore is
// reported as a warning, not an error.
func (s *Service) PurgeTopic(ctx context.Context, instanceID, name string, retentionMs int64, userID string) (result *OperationResult, err error) {
	start := time.Now()
	defer func() {
		observe("purge", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_purge", userID, map[string]interface{}{"topic": name, "retention_ms": retentionMs}, err)
	}()

	if retentionMs < purgeRetentionMin || retentionMs > purgeRetentionMax {
		return nil, errors.Newf(errors.CodeValidation, "purge retention_ms must be between %d and %d", purgeRetentionMin, purgeRetentionMax)
	}

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var configs map[string]string
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		var callErr error
		configs, callErr = admin.DescribeTopicConfigs(ctx, name)
		return callErr
	}); err != nil {
		return nil, err
	}
	originalRetention := clients.RetentionMsOrDefault(configs)

	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		return admin.AlterTopicConfigs(ctx, name, map[string]string{
			"retention.ms": strconv.FormatInt(retentionMs, 10),
		})
	}); err != nil {
		return nil, err
	}

	wait := time.Duration(retentionMs/1000) * time.Second
	if minimum := 5 * time.Second; wait < minimum {
		wait = minimum
	}
	if err = s.sleep(ctx, wait); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "purge interrupted")
	}

	result = &OperationResult{
		Success:   true,
		Message:   "topic purged",
		TopicName: name,
		Details: map[string]interface{}{
			"original_retention_ms": originalRetention,
			"purge_retention_ms":    retentionMs,
		},
	}

	restoreErr := s.call(ctx, instanceID, func(ctx context.Context) error {
		return admin.AlterTopicConfigs(ctx, name, map[string]string{
			"retention.ms": strconv.FormatInt(originalRetention, 10),
		})
	})
	if restoreErr != nil {
		s.logger.WithError(restoreErr).WithField("topic", name).Warn("cannot restore original retention after purge")
		result.Details["warning"] = "original retention could not be restored"
	}
	return result, nil
}

// BulkCreateTopics validates and creates every spec, returning a
// per-topic outcome map. One audit entry covers the batch.
func (s *Service) BulkCreateTopics(ctx context.Context, instanceID string, specs []domain.TopicSpec, userID string) (result *BulkResult, err error) {
	start := time.Now()
	defer func() {
		details := map[string]interface{}{}
		if result != nil {
			details["total"] = result.Total
			details["successful"] = result.Successful
			details["failed"] = result.Failed
		}
		observe("bulk_create", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_bulk_create", userID, details, err)
	}()

	if len(specs) == 0 {
		return nil, errors.New(errors.CodeValidation, "no topic specs provided")
	}

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	outcomes := make(map[string]clients.TopicOutcome, len(specs))
	valid := make([]domain.TopicSpec, 0, len(specs))
	for _, spec := range specs {
		if validationErr := spec.Validate(); validationErr != nil {
			outcomes[spec.Name] = clients.TopicOutcome{Message: "validation failed", Error: validationErr.Error()}
			continue
		}
		valid = append(valid, spec)
	}
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		for name, outcome := range admin.CreateTopics(ctx, valid) {
			outcomes[name] = outcome
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return summarize(outcomes), nil
}

// BulkDeleteTopics deletes every named topic with a per-topic outcome
// map and one batch audit entry.
func (s *Service) BulkDeleteTopics(ctx context.Context, instanceID string, names []string, userID string) (result *BulkResult, err error) {
	start := time.Now()
	defer func() {
		details := map[string]interface{}{}
		if result != nil {
			details["total"] = result.Total
			details["successful"] = result.Successful
			details["failed"] = result.Failed
		}
		observe("bulk_delete", err, time.Since(start).Seconds())
		s.audit(ctx, instanceID, "topic_bulk_delete", userID, details, err)
	}()

	if len(names) == 0 {
		return nil, errors.New(errors.CodeValidation, "no topic names provided")
	}

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	var outcomes map[string]clients.TopicOutcome
	if err = s.call(ctx, instanceID, func(ctx context.Context) error {
		outcomes = admin.DeleteTopics(ctx, names)
		return nil
	}); err != nil {
		return nil, err
	}
	return summarize(outcomes), nil
}

// GetClusterInfo returns the describe-cluster summary.
func (s *Service) GetClusterInfo(ctx context.Context, instanceID string) (info *domain.ClusterInfo, err error) {
	start := time.Now()
	defer func() { observe("cluster_info", err, time.Since(start).Seconds()) }()

	admin, err := s.connection(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	err = s.call(ctx, instanceID, func(ctx context.Context) error {
		var callErr error
		info, callErr = admin.DescribeCluster(ctx)
		return callErr
	})
	return info, err
}

func summarize(outcomes map[string]clients.TopicOutcome) *BulkResult {
	result := &BulkResult{Outcomes: outcomes, Total: len(outcomes)}
	for _, outcome := range outcomes {
		if outcome.Success {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	return result
}
