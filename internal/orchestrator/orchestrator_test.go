package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/providers"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/resilience"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/storage"
)

type fakeProvisioner struct {
	mu sync.Mutex

	kind              domain.ProviderKind
	provisionErr      error
	failProvision     string
	transientFailures int
	state             providers.OperationState
	healthy           bool
	info              *domain.ConnectionInfo

	provisioned   []string
	deprovisioned []string
}

func (f *fakeProvisioner) Kind() domain.ProviderKind { return f.kind }

func (f *fakeProvisioner) Provision(_ context.Context, instanceID string, _ domain.ClusterConfig) (*providers.ProvisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = append(f.provisioned, instanceID)
	if f.transientFailures > 0 {
		f.transientFailures--
		return nil, errors.New(errors.CodeKafkaConnection, "endpoint briefly unreachable")
	}
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	if f.failProvision != "" {
		return &providers.ProvisionResult{Status: providers.StateFailed, InstanceID: instanceID, Error: f.failProvision}, nil
	}
	return &providers.ProvisionResult{Status: providers.StateSucceeded, InstanceID: instanceID, ConnectionInfo: f.info}, nil
}

func (f *fakeProvisioner) Deprovision(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deprovisioned = append(f.deprovisioned, instanceID)
	return f.provisionErr
}

func (f *fakeProvisioner) Status(context.Context, string) (providers.OperationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeProvisioner) ConnectionInfo(context.Context, string) (*domain.ConnectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info == nil {
		return nil, errors.New(errors.CodeClusterNotAvailable, "no cluster")
	}
	return f.info, nil
}

func (f *fakeProvisioner) HealthCheck(context.Context, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeProvisioner) deprovisionedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deprovisioned...)
}

type fakeRegistry struct {
	mu        sync.Mutex
	instances map[string]*domain.ConnectionInfo
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{instances: make(map[string]*domain.ConnectionInfo)}
}

func (f *fakeRegistry) Register(instanceID string, info *domain.ConnectionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[instanceID] = info
	return nil
}

func (f *fakeRegistry) Remove(instanceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, instanceID)
}

func (f *fakeRegistry) has(instanceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[instanceID]
	return ok
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, storage.Store, *fakeProvisioner, *fakeRegistry) {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "instances.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provisioner := &fakeProvisioner{
		kind:    domain.ProviderDocker,
		state:   providers.StateSucceeded,
		healthy: true,
		info: &domain.ConnectionInfo{
			BootstrapServers:   []string{"localhost:9092"},
			CoordinatorConnect: "localhost:2181",
		},
	}
	registry := providers.NewRegistry()
	registry.Register(provisioner)
	pool := newFakeRegistry()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	orch := New(store, registry, pool, domain.ProviderDocker, 2, logger)
	// No retry delays in tests.
	orch.ConfigureResilience(resilience.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Strategy:    resilience.GrowthFixed,
	}, resilience.DefaultBreakerSettings())
	return orch, store, provisioner, pool
}

func createRequest(instanceID string) CreateRequest {
	return CreateRequest{
		InstanceID:       instanceID,
		ServiceID:        domain.ServiceID,
		PlanID:           domain.PlanStandard,
		OrganizationGUID: "org-1",
		SpaceGUID:        "space-1",
		UserID:           "tester",
	}
}

func waitForStatus(t *testing.T, store storage.Store, instanceID string, want domain.InstanceStatus) *domain.ServiceInstance {
	t.Helper()
	var got *domain.ServiceInstance
	require.Eventually(t, func() bool {
		instance, err := store.Get(context.Background(), instanceID)
		if err != nil {
			return false
		}
		got = instance
		return instance.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestCreateInstanceReachesRunning(t *testing.T) {
	orch, store, _, pool := newTestOrchestrator(t)
	ctx := context.Background()

	instance, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusPending, instance.Status)

	running := waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)
	require.NotNil(t, running.ConnectionInfo)
	assert.Equal(t, []string{"localhost:9092"}, running.ConnectionInfo.BootstrapServers)
	assert.True(t, pool.has("inst-1"))

	entries, err := store.Query(ctx, "inst-1", "", 10)
	require.NoError(t, err)
	operations := make([]string, 0, len(entries))
	for _, entry := range entries {
		operations = append(operations, entry.Operation)
	}
	assert.Contains(t, operations, domain.AuditProvisionStart)
	assert.Contains(t, operations, domain.AuditProvisionSuccess)
}

func TestCreateInstanceRejectsDuplicates(t *testing.T) {
	orch, store, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)

	_, err = orch.CreateInstance(ctx, createRequest("inst-1"))
	assert.Equal(t, errors.CodeInstanceAlreadyExists, errors.CodeOf(err))
}

func TestCreateInstanceValidation(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	req := createRequest("")
	_, err := orch.CreateInstance(ctx, req)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	req = createRequest("inst-1")
	req.ServiceID = "unknown"
	_, err = orch.CreateInstance(ctx, req)
	assert.Equal(t, errors.CodeServiceNotFound, errors.CodeOf(err))

	req = createRequest("inst-1")
	req.PlanID = "gigantic"
	_, err = orch.CreateInstance(ctx, req)
	assert.Equal(t, errors.CodePlanNotFound, errors.CodeOf(err))

	req = createRequest("inst-1")
	req.Parameters = map[string]interface{}{"runtime_provider": "bare-metal"}
	_, err = orch.CreateInstance(ctx, req)
	assert.Equal(t, errors.CodeProviderNotFound, errors.CodeOf(err))

	req = createRequest("inst-1")
	req.Parameters = map[string]interface{}{"replication_factor": float64(7)}
	_, err = orch.CreateInstance(ctx, req)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestCreateInstanceAppliesParameterOverlay(t *testing.T) {
	orch, store, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	req := createRequest("inst-1")
	req.Parameters = map[string]interface{}{
		"cluster_size":    float64(5),
		"retention_hours": float64(24),
	}
	_, err := orch.CreateInstance(ctx, req)
	require.NoError(t, err)

	running := waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)
	assert.EqualValues(t, 5, running.RuntimeConfig["cluster_size"])
	assert.EqualValues(t, 24, running.RuntimeConfig["retention_hours"])
	// Untouched keys keep the plan baseline.
	assert.EqualValues(t, 2, running.RuntimeConfig["replication_factor"])
}

func TestCreateInstanceRetriesTransientProviderFailure(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	provisioner.mu.Lock()
	provisioner.transientFailures = 1
	provisioner.mu.Unlock()
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)

	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)
	provisioner.mu.Lock()
	attempts := len(provisioner.provisioned)
	provisioner.mu.Unlock()
	// One failed attempt, one successful retry.
	assert.Equal(t, 2, attempts)
}

func TestCreateInstanceProvisioningFailure(t *testing.T) {
	orch, store, provisioner, pool := newTestOrchestrator(t)
	provisioner.failProvision = "image pull failed"
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)

	failed := waitForStatus(t, store, "inst-1", domain.InstanceStatusError)
	assert.Equal(t, "image pull failed", failed.ErrorMessage)
	assert.False(t, pool.has("inst-1"))

	entries, err := store.Query(ctx, "inst-1", domain.AuditProvisionFailed, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCreateInstanceProvisioningException(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	provisioner.provisionErr = errors.New(errors.CodeClusterProvisioningFailed, "docker daemon unreachable")
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)

	failed := waitForStatus(t, store, "inst-1", domain.InstanceStatusError)
	assert.Contains(t, failed.ErrorMessage, "docker daemon unreachable")

	entries, err := store.Query(ctx, "inst-1", domain.AuditProvisionException, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteInstance(t *testing.T) {
	orch, store, provisioner, pool := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)

	require.NoError(t, orch.DeleteInstance(ctx, "inst-1", "tester"))
	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, "inst-1")
		return errors.CodeOf(err) == errors.CodeInstanceNotFound
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"inst-1"}, provisioner.deprovisionedIDs())
	assert.False(t, pool.has("inst-1"))
}

func TestDeleteInstanceUnknown(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)
	err := orch.DeleteInstance(context.Background(), "ghost", "tester")
	assert.Equal(t, errors.CodeInstanceNotFound, errors.CodeOf(err))
}

func TestDeleteInstanceFailureKeepsRow(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)

	provisioner.mu.Lock()
	provisioner.provisionErr = errors.New(errors.CodeClusterDeprovisionFailed, "volumes busy")
	provisioner.mu.Unlock()

	require.NoError(t, orch.DeleteInstance(ctx, "inst-1", "tester"))
	failed := waitForStatus(t, store, "inst-1", domain.InstanceStatusError)
	assert.Contains(t, failed.ErrorMessage, "volumes busy")
}

func TestGetClusterStatusReconcilesDrift(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)

	provisioner.mu.Lock()
	provisioner.state = providers.StateFailed
	provisioner.mu.Unlock()

	status, err := orch.GetClusterStatus(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusError, status)

	stored, err := store.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusError, stored.Status)

	// A running row whose provider is still converging drops back to
	// creating.
	provisioner.mu.Lock()
	provisioner.state = providers.StateInProgress
	provisioner.mu.Unlock()

	_, err = orch.CreateInstance(ctx, createRequest("inst-2"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-2", domain.InstanceStatusRunning)

	status, err = orch.GetClusterStatus(ctx, "inst-2")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusCreating, status)
}

func TestGetClusterStatusNeverResurrectsFailedProvision(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	provisioner.failProvision = "boom"
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusError)

	// The provider later reports success, but the failed row has no
	// connection info: it must stay in error.
	provisioner.mu.Lock()
	provisioner.state = providers.StateSucceeded
	provisioner.mu.Unlock()

	status, err := orch.GetClusterStatus(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusError, status)

	stored, err := store.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusError, stored.Status)
	assert.Nil(t, stored.ConnectionInfo)
	assert.Equal(t, "boom", stored.ErrorMessage)
}

func TestGetConnectionInfo(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)

	info, err := orch.GetConnectionInfo(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, info.BootstrapServers)

	// Provider loses the live view: stored copy still answers.
	provisioner.mu.Lock()
	provisioner.info = nil
	provisioner.mu.Unlock()

	info, err = orch.GetConnectionInfo(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, info.BootstrapServers)
}

func TestGetConnectionInfoNotRunning(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	provisioner.failProvision = "boom"
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusError)

	_, err = orch.GetConnectionInfo(ctx, "inst-1")
	assert.Equal(t, errors.CodeClusterNotAvailable, errors.CodeOf(err))
}

func TestHealthCheck(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	ctx := context.Background()

	assert.False(t, orch.HealthCheck(ctx, "ghost"))

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusRunning)
	assert.True(t, orch.HealthCheck(ctx, "inst-1"))

	provisioner.mu.Lock()
	provisioner.healthy = false
	provisioner.mu.Unlock()
	assert.False(t, orch.HealthCheck(ctx, "inst-1"))
}

func TestCleanupFailedInstances(t *testing.T) {
	orch, store, provisioner, _ := newTestOrchestrator(t)
	provisioner.failProvision = "boom"
	ctx := context.Background()

	_, err := orch.CreateInstance(ctx, createRequest("inst-1"))
	require.NoError(t, err)
	_, err = orch.CreateInstance(ctx, createRequest("inst-2"))
	require.NoError(t, err)
	waitForStatus(t, store, "inst-1", domain.InstanceStatusError)
	waitForStatus(t, store, "inst-2", domain.InstanceStatusError)

	cleaned, err := orch.CleanupFailedInstances(ctx, "janitor")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inst-1", "inst-2"}, cleaned)

	remaining, err := store.List(ctx, storage.InstanceFilters{})
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.ElementsMatch(t, []string{"inst-1", "inst-2"}, provisioner.deprovisionedIDs())
}
