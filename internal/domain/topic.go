package domain

import (
	"fmt"
	"strings"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// CleanupPolicy represents Kafka topic cleanup policy.
type CleanupPolicy string

const (
	CleanupPolicyDelete  CleanupPolicy = "delete"
	CleanupPolicyCompact CleanupPolicy = "compact"
	CleanupPolicyBoth    CleanupPolicy = "compact,delete"
)

// CompressionType represents Kafka topic compression.
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
	CompressionLz4    CompressionType = "lz4"
	CompressionZstd   CompressionType = "zstd"
)

const (
	maxTopicNameLength = 249
	maxPartitions      = 1000
	maxReplication     = 10
	maxMessageBytesCap = 100 * 1024 * 1024

	// DefaultRetentionMs is the broker default applied when retention.ms
	// was never set on a topic (7 days).
	DefaultRetentionMs int64 = 604800000

	// RetentionInfinite is the broker sentinel for unlimited retention.
	RetentionInfinite int64 = -1

	// InternalTopicPrefix marks topics reserved for broker internals.
	InternalTopicPrefix = "__"
)

// forbiddenTopicChars are rejected anywhere in a topic name.
const forbiddenTopicChars = "/\\,:\"';*?= \t\r\n\x00"

// TopicSpec is a validated topic definition.
type TopicSpec struct {
	Name              string            `json:"name"`
	Partitions        int32             `json:"partitions"`
	ReplicationFactor int16             `json:"replication_factor"`
	RetentionMs       int64             `json:"retention_ms"`
	CleanupPolicy     CleanupPolicy     `json:"cleanup_policy,omitempty"`
	Compression       CompressionType   `json:"compression,omitempty"`
	MaxMessageBytes   int32             `json:"max_message_bytes,omitempty"`
	MinInsyncReplicas int16             `json:"min_insync_replicas,omitempty"`
	CustomConfigs     map[string]string `json:"custom_configs,omitempty"`
}

// NewTopicSpec creates a spec with sensible defaults for optional fields.
func NewTopicSpec(name string, partitions int32, replicationFactor int16) TopicSpec {
	return TopicSpec{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		RetentionMs:       DefaultRetentionMs,
		CleanupPolicy:     CleanupPolicyDelete,
		Compression:       CompressionNone,
		MaxMessageBytes:   1048576,
		MinInsyncReplicas: 1,
	}
}

// ValidateTopicName checks Kafka broker-side topic name rules.
func ValidateTopicName(name string) error {
	switch {
	case name == "":
		return errors.New(errors.CodeValidation, "topic name is required")
	case len(name) > maxTopicNameLength:
		return errors.Newf(errors.CodeValidation, "topic name exceeds %d characters", maxTopicNameLength)
	case name == "." || name == "..":
		return errors.Newf(errors.CodeValidation, "topic name %q is reserved", name)
	case strings.HasPrefix(name, InternalTopicPrefix):
		return errors.New(errors.CodeValidation, "topic names starting with __ are reserved for internal topics")
	case strings.ContainsAny(name, forbiddenTopicChars):
		return errors.Newf(errors.CodeValidation, "topic name %q contains forbidden characters", name)
	}
	return nil
}

// Validate checks every spec invariant, returning the first violation.
func (s TopicSpec) Validate() error {
	if err := ValidateTopicName(s.Name); err != nil {
		return err
	}
	if s.Partitions < 1 || s.Partitions > maxPartitions {
		return errors.Newf(errors.CodeValidation, "partitions must be between 1 and %d", maxPartitions)
	}
	if s.ReplicationFactor < 1 || s.ReplicationFactor > maxReplication {
		return errors.Newf(errors.CodeValidation, "replication factor must be between 1 and %d", maxReplication)
	}
	if s.RetentionMs < 1 && s.RetentionMs != RetentionInfinite {
		return errors.New(errors.CodeValidation, "retention_ms must be positive or -1 for infinite")
	}
	switch s.CleanupPolicy {
	case "", CleanupPolicyDelete, CleanupPolicyCompact, CleanupPolicyBoth:
	default:
		return errors.Newf(errors.CodeValidation, "unknown cleanup policy %q", s.CleanupPolicy)
	}
	switch s.Compression {
	case "", CompressionNone, CompressionGzip, CompressionSnappy, CompressionLz4, CompressionZstd:
	default:
		return errors.Newf(errors.CodeValidation, "unknown compression type %q", s.Compression)
	}
	if s.MaxMessageBytes != 0 && (s.MaxMessageBytes < 1 || s.MaxMessageBytes > maxMessageBytesCap) {
		return errors.Newf(errors.CodeValidation, "max_message_bytes must be between 1 and %d", maxMessageBytesCap)
	}
	if s.MinInsyncReplicas != 0 {
		if s.MinInsyncReplicas < 1 {
			return errors.New(errors.CodeValidation, "min_insync_replicas must be at least 1")
		}
		if s.MinInsyncReplicas > s.ReplicationFactor {
			return errors.New(errors.CodeValidation, "min_insync_replicas cannot exceed replication factor")
		}
	}
	return nil
}

// KafkaConfigs returns the broker config entries implied by the non-default
// fields of the spec, merged with custom configs.
func (s TopicSpec) KafkaConfigs() map[string]string {
	configs := make(map[string]string)
	if s.RetentionMs != 0 {
		configs["retention.ms"] = fmt.Sprintf("%d", s.RetentionMs)
	}
	if s.CleanupPolicy != "" {
		configs["cleanup.policy"] = string(s.CleanupPolicy)
	}
	if s.Compression != "" {
		configs["compression.type"] = string(s.Compression)
	}
	if s.MaxMessageBytes != 0 {
		configs["max.message.bytes"] = fmt.Sprintf("%d", s.MaxMessageBytes)
	}
	if s.MinInsyncReplicas != 0 {
		configs["min.insync.replicas"] = fmt.Sprintf("%d", s.MinInsyncReplicas)
	}
	for k, v := range s.CustomConfigs {
		configs[k] = v
	}
	return configs
}

// PartitionInfo is the observable state of one topic partition.
type PartitionInfo struct {
	Partition int32   `json:"partition"`
	Leader    int32   `json:"leader"`
	Replicas  []int32 `json:"replicas"`
	ISR       []int32 `json:"isr"`
}

// TopicDescription is the observable state of a topic.
type TopicDescription struct {
	Name              string            `json:"name"`
	Partitions        int32             `json:"partitions"`
	ReplicationFactor int16             `json:"replication_factor"`
	Configs           map[string]string `json:"configs"`
	PartitionDetails  []PartitionInfo   `json:"partition_details,omitempty"`
	MessageCount      *int64            `json:"message_count,omitempty"`
	SizeBytes         *int64            `json:"size_bytes,omitempty"`
}

// BrokerInfo identifies one broker in a cluster.
type BrokerInfo struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int32  `json:"port"`
}

// ClusterInfo is the describe-cluster summary for one instance.
type ClusterInfo struct {
	ClusterID    string       `json:"cluster_id"`
	BrokerCount  int          `json:"broker_count"`
	TopicCount   int          `json:"topic_count"`
	Brokers      []BrokerInfo `json:"brokers"`
	ControllerID *int32       `json:"controller_id,omitempty"`
}
