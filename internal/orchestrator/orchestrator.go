// Package orchestrator drives the cluster lifecycle state machine:
// pending, creating, running, stopping, and error, with every
// transition persisted and audited.
package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/clients"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/providers"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/resilience"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/storage"
)

// ConnectionRegistry is the slice of the admin pool the orchestrator
// needs: registering new clusters and forgetting removed ones.
type ConnectionRegistry interface {
	Register(instanceID string, info *domain.ConnectionInfo) error
	Remove(instanceID string)
}

// CreateRequest carries a provisioning request into the orchestrator.
type CreateRequest struct {
	InstanceID       string
	ServiceID        string
	PlanID           string
	OrganizationGUID string
	SpaceGUID        string
	Parameters       map[string]interface{}
	UserID           string
}

// Orchestrator owns instance lifecycle operations. Provider calls run
// on a bounded worker pool; entry points return once the instance row
// is persisted in its transitional state.
type Orchestrator struct {
	store           storage.Store
	registry        *providers.Registry
	pool            ConnectionRegistry
	defaultProvider domain.ProviderKind
	workers         *semaphore.Weighted
	retry           resilience.RetryPolicy
	breakers        *resilience.BreakerRegistry
	logger          *logrus.Logger
}

// New creates the orchestrator with a worker pool of the given size.
func New(store storage.Store, registry *providers.Registry, pool ConnectionRegistry, defaultProvider domain.ProviderKind, workerPoolSize int, logger *logrus.Logger) *Orchestrator {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	o := &Orchestrator{
		store:           store,
		registry:        registry,
		pool:            pool,
		defaultProvider: defaultProvider,
		workers:         semaphore.NewWeighted(int64(workerPoolSize)),
		logger:          logger,
	}
	o.ConfigureResilience(resilience.DefaultRetryPolicy(), resilience.DefaultBreakerSettings())
	return o
}

// ConfigureResilience replaces the retry policy and breaker settings
// applied to provider calls. One breaker is shared per provider kind.
func (o *Orchestrator) ConfigureResilience(policy resilience.RetryPolicy, settings resilience.BreakerSettings) {
	// Provisioning steps own their timeouts; a per-call cap would cut
	// off long applies.
	settings.CallTimeout = 0
	o.retry = policy
	o.breakers = resilience.NewBreakerRegistry(settings)
}

// callProvider routes one provider call through the shared breaker and
// the retry policy.
func (o *Orchestrator) callProvider(ctx context.Context, kind domain.ProviderKind, fn func(ctx context.Context) error) error {
	breaker := o.breakers.Get("provider:" + string(kind))
	return resilience.Retry(ctx, o.retry, func(ctx context.Context) error {
		return breaker.Execute(ctx, fn)
	})
}

// resolveProvider reads parameters.runtime_provider, falling back to
// the configured default.
func (o *Orchestrator) resolveProvider(params map[string]interface{}) (domain.ProviderKind, providers.Provisioner, error) {
	kind := o.defaultProvider
	if raw, ok := params["runtime_provider"].(string); ok && raw != "" {
		kind = domain.ProviderKind(raw)
	}
	provider, err := o.registry.Get(kind)
	if err != nil {
		return kind, nil, err
	}
	return kind, provider, nil
}

// clusterConfig overlays caller parameters on the plan's baseline.
func clusterConfig(planID string, params map[string]interface{}) (domain.ClusterConfig, error) {
	cfg := domain.BaselineForPlan(planID)

	if v, ok := intParam(params, "cluster_size"); ok {
		cfg.ClusterSize = v
	}
	if v, ok := intParam(params, "replication_factor"); ok {
		cfg.ReplicationFactor = v
	}
	if v, ok := intParam(params, "partition_count"); ok {
		cfg.PartitionCount = v
	}
	if v, ok := intParam(params, "retention_hours"); ok {
		cfg.RetentionHours = v
	}
	if v, ok := intParam(params, "storage_size_gb"); ok {
		cfg.StorageSizeGB = v
	}
	if v, ok := params["enable_ssl"].(bool); ok {
		cfg.EnableSSL = v
	}
	if v, ok := params["enable_sasl"].(bool); ok {
		cfg.EnableSASL = v
	}
	if raw, ok := params["custom_properties"].(map[string]interface{}); ok {
		cfg.CustomProperties = make(map[string]string, len(raw))
		for key, value := range raw {
			if s, ok := value.(string); ok {
				cfg.CustomProperties[key] = s
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// intParam accepts both JSON numbers and ints.
func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (o *Orchestrator) audit(ctx context.Context, instanceID, operation, userID string, details map[string]interface{}) {
	if err := o.store.Log(ctx, instanceID, operation, userID, details); err != nil {
		o.logger.WithError(err).WithField("operation", operation).Warn("cannot write audit entry")
	}
}

// CreateInstance validates the request, persists the pending row, and
// offloads provisioning to the worker pool. Returns the stored
// instance in pending state.
func (o *Orchestrator) CreateInstance(ctx context.Context, req CreateRequest) (*domain.ServiceInstance, error) {
	if req.InstanceID == "" {
		return nil, errors.New(errors.CodeValidation, "instance_id is required")
	}
	if req.ServiceID != domain.ServiceID {
		return nil, errors.Newf(errors.CodeServiceNotFound, "unknown service %q", req.ServiceID)
	}
	switch req.PlanID {
	case domain.PlanBasic, domain.PlanStandard, domain.PlanPremium:
	default:
		return nil, errors.Newf(errors.CodePlanNotFound, "unknown plan %q", req.PlanID)
	}

	kind, provider, err := o.resolveProvider(req.Parameters)
	if err != nil {
		return nil, err
	}
	cfg, err := clusterConfig(req.PlanID, req.Parameters)
	if err != nil {
		return nil, err
	}

	instance := domain.NewServiceInstance(req.InstanceID, req.ServiceID, req.PlanID, req.OrganizationGUID, req.SpaceGUID, req.Parameters)
	instance.RuntimeProvider = kind
	if err := o.store.Create(ctx, instance); err != nil {
		return nil, err
	}
	o.audit(ctx, req.InstanceID, domain.AuditProvisionStart, req.UserID, map[string]interface{}{
		"plan_id":  req.PlanID,
		"provider": string(kind),
	})

	go o.provision(context.WithoutCancel(ctx), instance, provider, cfg, req.UserID)
	return instance, nil
}

// provision runs on a worker slot: creating → provider call → running
// or error.
func (o *Orchestrator) provision(ctx context.Context, instance *domain.ServiceInstance, provider providers.Provisioner, cfg domain.ClusterConfig, userID string) {
	log := o.logger.WithField("instance_id", instance.InstanceID)

	if err := o.workers.Acquire(ctx, 1); err != nil {
		log.WithError(err).Error("cannot acquire provisioning worker")
		return
	}
	defer o.workers.Release(1)

	instance.Status = domain.InstanceStatusCreating
	instance.RuntimeConfig = map[string]interface{}{
		"cluster_size":       cfg.ClusterSize,
		"replication_factor": cfg.ReplicationFactor,
		"partition_count":    cfg.PartitionCount,
		"retention_hours":    cfg.RetentionHours,
		"storage_size_gb":    cfg.StorageSizeGB,
	}
	instance.Touch()
	if err := o.store.Update(ctx, instance); err != nil {
		log.WithError(err).Error("cannot persist creating state")
		return
	}

	var result *providers.ProvisionResult
	err := o.callProvider(ctx, instance.RuntimeProvider, func(ctx context.Context) error {
		var callErr error
		result, callErr = provider.Provision(ctx, instance.InstanceID, cfg)
		return callErr
	})
	switch {
	case err != nil:
		log.WithError(err).Error("provider raised during provisioning")
		instance.MarkError(err.Error())
		o.audit(ctx, instance.InstanceID, domain.AuditProvisionException, userID, map[string]interface{}{"error": err.Error()})

	case result.Status != providers.StateSucceeded:
		log.WithField("error", result.Error).Error("provisioning failed")
		instance.MarkError(result.Error)
		o.audit(ctx, instance.InstanceID, domain.AuditProvisionFailed, userID, map[string]interface{}{"error": result.Error})

	default:
		instance.MarkRunning(result.ConnectionInfo)
		o.audit(ctx, instance.InstanceID, domain.AuditProvisionSuccess, userID, map[string]interface{}{
			"bootstrap_servers": result.ConnectionInfo.BootstrapServers,
		})
		if registerErr := o.pool.Register(instance.InstanceID, result.ConnectionInfo); registerErr != nil {
			log.WithError(registerErr).Warn("cannot register cluster in connection pool")
		}
		log.Info("instance running")
	}

	if err := o.store.Update(ctx, instance); err != nil {
		log.WithError(err).Error("cannot persist terminal state")
	}
}

// DeleteInstance persists stopping and offloads deprovisioning.
func (o *Orchestrator) DeleteInstance(ctx context.Context, instanceID, userID string) error {
	instance, err := o.store.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.Status == domain.InstanceStatusStopping {
		return errors.Newf(errors.CodeOperationInProgress, "instance %s is already being deleted", instanceID)
	}

	provider, err := o.registry.Get(instance.RuntimeProvider)
	if err != nil {
		return err
	}

	instance.Status = domain.InstanceStatusStopping
	instance.Touch()
	if err := o.store.Update(ctx, instance); err != nil {
		return err
	}
	o.audit(ctx, instanceID, domain.AuditDeprovisionStart, userID, nil)

	go o.deprovision(context.WithoutCancel(ctx), instance, provider, userID)
	return nil
}

// deprovision runs on a worker slot: provider teardown, then row
// deletion on success or error state on failure.
func (o *Orchestrator) deprovision(ctx context.Context, instance *domain.ServiceInstance, provider providers.Provisioner, userID string) {
	log := o.logger.WithField("instance_id", instance.InstanceID)

	if err := o.workers.Acquire(ctx, 1); err != nil {
		log.WithError(err).Error("cannot acquire deprovisioning worker")
		return
	}
	defer o.workers.Release(1)

	o.pool.Remove(instance.InstanceID)

	err := o.callProvider(ctx, instance.RuntimeProvider, func(ctx context.Context) error {
		return provider.Deprovision(ctx, instance.InstanceID)
	})
	if err != nil {
		log.WithError(err).Error("deprovisioning failed")
		instance.MarkError(err.Error())
		if updateErr := o.store.Update(ctx, instance); updateErr != nil {
			log.WithError(updateErr).Error("cannot persist error state")
		}
		o.audit(ctx, instance.InstanceID, domain.AuditDeprovisionFailed, userID, map[string]interface{}{"error": err.Error()})
		return
	}

	// The audit trail outlives the row only in the file engine when the
	// entry precedes deletion; write it first either way.
	o.audit(ctx, instance.InstanceID, domain.AuditDeprovisionSuccess, userID, nil)
	if err := o.store.Delete(ctx, instance.InstanceID); err != nil {
		log.WithError(err).Error("cannot delete instance row")
		return
	}
	log.Info("instance deleted")
}

// GetInstance returns the stored row.
func (o *Orchestrator) GetInstance(ctx context.Context, instanceID string) (*domain.ServiceInstance, error) {
	return o.store.Get(ctx, instanceID)
}

// GetClusterStatus reconciles the stored status against the provider's
// live view, writing back on drift.
func (o *Orchestrator) GetClusterStatus(ctx context.Context, instanceID string) (domain.InstanceStatus, error) {
	instance, err := o.store.Get(ctx, instanceID)
	if err != nil {
		return "", err
	}

	provider, err := o.registry.Get(instance.RuntimeProvider)
	if err != nil {
		return instance.Status, nil
	}
	state, err := provider.Status(ctx, instanceID)
	if err != nil {
		return instance.Status, nil
	}

	// Only running rows reconcile downward. An error row never flips
	// back to running here: it has no recorded connection info, so
	// recovery goes through deletion and a fresh provision.
	reconciled := instance.Status
	switch {
	case instance.Status == domain.InstanceStatusRunning && state == providers.StateFailed:
		reconciled = domain.InstanceStatusError
	case instance.Status == domain.InstanceStatusRunning && state == providers.StateInProgress:
		reconciled = domain.InstanceStatusCreating
	}
	if reconciled != instance.Status {
		o.logger.WithFields(logrus.Fields{
			"instance_id": instanceID,
			"stored":      instance.Status,
			"reconciled":  reconciled,
		}).Warn("instance status drifted, reconciling")
		instance.Status = reconciled
		if reconciled == domain.InstanceStatusError {
			instance.ErrorMessage = "provider reports cluster gone"
		}
		instance.Touch()
		if err := o.store.Update(ctx, instance); err != nil {
			return reconciled, err
		}
	}
	return reconciled, nil
}

// GetConnectionInfo prefers the provider's live endpoints, falling
// back to the stored copy.
func (o *Orchestrator) GetConnectionInfo(ctx context.Context, instanceID string) (*domain.ConnectionInfo, error) {
	instance, err := o.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status != domain.InstanceStatusRunning {
		return nil, errors.Newf(errors.CodeClusterNotAvailable, "instance %s is %s, not running", instanceID, instance.Status)
	}

	if provider, err := o.registry.Get(instance.RuntimeProvider); err == nil {
		if live, err := provider.ConnectionInfo(ctx, instanceID); err == nil && live != nil {
			return live, nil
		}
	}
	if instance.ConnectionInfo == nil {
		return nil, errors.Newf(errors.CodeClusterNotAvailable, "no connection info recorded for %s", instanceID)
	}
	return instance.ConnectionInfo, nil
}

// HealthCheck returns false for rows not in running state.
func (o *Orchestrator) HealthCheck(ctx context.Context, instanceID string) bool {
	instance, err := o.store.Get(ctx, instanceID)
	if err != nil || instance.Status != domain.InstanceStatusRunning {
		return false
	}
	provider, err := o.registry.Get(instance.RuntimeProvider)
	if err != nil {
		return false
	}
	return provider.HealthCheck(ctx, instanceID)
}

// CleanupInstance deprovisions one instance best-effort and removes
// its row and pool registration.
func (o *Orchestrator) CleanupInstance(ctx context.Context, instanceID string) error {
	instance, err := o.store.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if provider, err := o.registry.Get(instance.RuntimeProvider); err == nil {
		err := o.callProvider(ctx, instance.RuntimeProvider, func(ctx context.Context) error {
			return provider.Deprovision(ctx, instanceID)
		})
		if err != nil {
			o.logger.WithError(err).WithField("instance_id", instanceID).Warn("best-effort deprovision failed during cleanup")
		}
	}
	o.pool.Remove(instanceID)
	return o.store.Delete(ctx, instanceID)
}

// CleanupFailedInstances deprovisions best-effort and deletes every
// row in error state. Returns the cleaned instance ids.
func (o *Orchestrator) CleanupFailedInstances(ctx context.Context, userID string) ([]string, error) {
	failed, err := o.store.ListByStatus(ctx, domain.InstanceStatusError)
	if err != nil {
		return nil, err
	}

	var cleaned []string
	for _, instance := range failed {
		if err := o.CleanupInstance(ctx, instance.InstanceID); err != nil {
			o.logger.WithError(err).WithField("instance_id", instance.InstanceID).Warn("cannot delete failed instance row")
			continue
		}
		cleaned = append(cleaned, instance.InstanceID)
	}
	if len(cleaned) > 0 {
		o.audit(ctx, "", "cleanup_failed_instances", userID, map[string]interface{}{"cleaned": cleaned})
	}
	return cleaned, nil
}

// ListInstances passes filters through to the store.
func (o *Orchestrator) ListInstances(ctx context.Context, filters storage.InstanceFilters) ([]*domain.ServiceInstance, error) {
	return o.store.List(ctx, filters)
}

var _ ConnectionRegistry = (*clients.Pool)(nil)
