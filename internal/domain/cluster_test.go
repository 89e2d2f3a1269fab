package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

func TestClusterConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClusterConfig
		wantErr bool
	}{
		{"single node", SingleNodeClusterConfig(), false},
		{"multi node", MultiNodeClusterConfig(), false},
		{"production", ProductionClusterConfig(), false},
		{"zero cluster size", ClusterConfig{ClusterSize: 0, ReplicationFactor: 1, PartitionCount: 1, RetentionHours: 1, StorageSizeGB: 1}, true},
		{"cluster size eleven", ClusterConfig{ClusterSize: 11, ReplicationFactor: 1, PartitionCount: 1, RetentionHours: 1, StorageSizeGB: 1}, true},
		{"replication above cluster size", ClusterConfig{ClusterSize: 2, ReplicationFactor: 3, PartitionCount: 1, RetentionHours: 1, StorageSizeGB: 1}, true},
		{"retention above one year", ClusterConfig{ClusterSize: 1, ReplicationFactor: 1, PartitionCount: 1, RetentionHours: 8761, StorageSizeGB: 1}, true},
		{"no storage", ClusterConfig{ClusterSize: 1, ReplicationFactor: 1, PartitionCount: 1, RetentionHours: 1, StorageSizeGB: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBaselineForPlan(t *testing.T) {
	assert.Equal(t, 1, BaselineForPlan(PlanBasic).ClusterSize)
	assert.Equal(t, 3, BaselineForPlan(PlanStandard).ClusterSize)
	assert.Equal(t, 5, BaselineForPlan(PlanPremium).ClusterSize)
	// Unknown plans fall back to the multi-node shape.
	assert.Equal(t, 3, BaselineForPlan("enterprise").ClusterSize)

	premium := BaselineForPlan(PlanPremium)
	assert.True(t, premium.EnableSSL)
	assert.True(t, premium.EnableSASL)
}

func TestServiceInstanceTransitions(t *testing.T) {
	inst := NewServiceInstance("it-1", ServiceID, PlanBasic, "org", "space", nil)
	require.Equal(t, InstanceStatusPending, inst.Status)
	require.NotNil(t, inst.Parameters)

	before := inst.UpdatedAt
	inst.MarkRunning(&ConnectionInfo{BootstrapServers: []string{"localhost:9092"}})
	assert.Equal(t, InstanceStatusRunning, inst.Status)
	require.NotNil(t, inst.ConnectionInfo)
	assert.NotEmpty(t, inst.ConnectionInfo.BootstrapServers)
	assert.True(t, inst.UpdatedAt.After(before))

	inst.MarkError("provision blew up")
	assert.Equal(t, InstanceStatusError, inst.Status)
	assert.Equal(t, "provision blew up", inst.ErrorMessage)
}

func TestMarkErrorAlwaysSetsMessage(t *testing.T) {
	inst := NewServiceInstance("it-2", ServiceID, PlanBasic, "org", "space", nil)
	inst.MarkError("")
	assert.NotEmpty(t, inst.ErrorMessage)
}
