package domain

import (
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// ClusterConfig is the validated provisioning input for one cluster.
type ClusterConfig struct {
	ClusterSize       int               `json:"cluster_size"`
	ReplicationFactor int               `json:"replication_factor"`
	PartitionCount    int               `json:"partition_count"`
	RetentionHours    int               `json:"retention_hours"`
	StorageSizeGB     int               `json:"storage_size_gb"`
	EnableSSL         bool              `json:"enable_ssl"`
	EnableSASL        bool              `json:"enable_sasl"`
	CustomProperties  map[string]string `json:"custom_properties,omitempty"`
}

// Validate checks the provisioning constraints of a cluster config.
func (c ClusterConfig) Validate() error {
	if c.ClusterSize < 1 || c.ClusterSize > 10 {
		return errors.New(errors.CodeValidation, "cluster_size must be between 1 and 10")
	}
	if c.ReplicationFactor < 1 || c.ReplicationFactor > 10 {
		return errors.New(errors.CodeValidation, "replication_factor must be between 1 and 10")
	}
	if c.ReplicationFactor > c.ClusterSize {
		return errors.New(errors.CodeValidation, "replication_factor cannot exceed cluster_size")
	}
	if c.PartitionCount < 1 || c.PartitionCount > 1000 {
		return errors.New(errors.CodeValidation, "partition_count must be between 1 and 1000")
	}
	if c.RetentionHours < 1 || c.RetentionHours > 8760 {
		return errors.New(errors.CodeValidation, "retention_hours must be between 1 and 8760")
	}
	if c.StorageSizeGB < 1 {
		return errors.New(errors.CodeValidation, "storage_size_gb must be at least 1")
	}
	return nil
}

// SingleNodeClusterConfig is the baseline for the basic plan.
func SingleNodeClusterConfig() ClusterConfig {
	return ClusterConfig{
		ClusterSize:       1,
		ReplicationFactor: 1,
		PartitionCount:    3,
		RetentionHours:    168,
		StorageSizeGB:     10,
	}
}

// MultiNodeClusterConfig is the baseline for the standard plan.
func MultiNodeClusterConfig() ClusterConfig {
	return ClusterConfig{
		ClusterSize:       3,
		ReplicationFactor: 2,
		PartitionCount:    6,
		RetentionHours:    168,
		StorageSizeGB:     50,
	}
}

// ProductionClusterConfig is the hardened baseline for the premium plan.
func ProductionClusterConfig() ClusterConfig {
	return ClusterConfig{
		ClusterSize:       5,
		ReplicationFactor: 3,
		PartitionCount:    12,
		RetentionHours:    720,
		StorageSizeGB:     200,
		EnableSSL:         true,
		EnableSASL:        true,
	}
}

// BaselineForPlan selects the plan's default cluster shape.
func BaselineForPlan(planID string) ClusterConfig {
	switch planID {
	case PlanBasic:
		return SingleNodeClusterConfig()
	case PlanPremium:
		return ProductionClusterConfig()
	default:
		return MultiNodeClusterConfig()
	}
}
