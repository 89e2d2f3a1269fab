// Package clients provides the Kafka admin adapter and the per-instance
// connection pool.
package clients

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// TopicOutcome is the per-topic result of a bulk operation.
type TopicOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// AdminClient is the admin surface the topic service and orchestrator
// operate against. Implemented by franz-go; faked in tests.
type AdminClient interface {
	CreateTopic(ctx context.Context, spec domain.TopicSpec) error
	CreateTopics(ctx context.Context, specs []domain.TopicSpec) map[string]TopicOutcome
	DeleteTopic(ctx context.Context, name string) error
	DeleteTopics(ctx context.Context, names []string) map[string]TopicOutcome
	ListTopics(ctx context.Context) ([]string, error)
	DescribeTopic(ctx context.Context, name string) (*domain.TopicDescription, error)
	DescribeTopicConfigs(ctx context.Context, name string) (map[string]string, error)
	AlterTopicConfigs(ctx context.Context, name string, configs map[string]string) error
	DescribeCluster(ctx context.Context) (*domain.ClusterInfo, error)
	Ping(ctx context.Context) error
	Close()
}

// kafkaAdmin adapts franz-go's kadm client to the AdminClient surface.
type kafkaAdmin struct {
	client *kgo.Client
	admin  *kadm.Client
}

// NewAdminClient dials the cluster described by info, applying its SASL
// and TLS settings.
func NewAdminClient(info *domain.ConnectionInfo, requestTimeout time.Duration) (AdminClient, error) {
	if info == nil || len(info.BootstrapServers) == 0 {
		return nil, errors.New(errors.CodeKafkaConnection, "connection info has no bootstrap servers")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(info.BootstrapServers...),
	}
	if requestTimeout > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(requestTimeout))
	}

	mechanism, err := buildSASLMechanism(info.SASL)
	if err != nil {
		return nil, err
	}
	if mechanism != nil {
		opts = append(opts, kgo.SASL(mechanism))
	}

	tlsConfig, err := buildTLSConfig(info.SSL)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeKafkaConnection, "cannot create kafka client")
	}
	return &kafkaAdmin{client: client, admin: kadm.NewClient(client)}, nil
}

func (a *kafkaAdmin) CreateTopic(ctx context.Context, spec domain.TopicSpec) error {
	configs := make(map[string]*string)
	for key, value := range spec.KafkaConfigs() {
		value := value
		configs[key] = &value
	}
	responses, err := a.admin.CreateTopics(ctx, spec.Partitions, spec.ReplicationFactor, configs, spec.Name)
	if err != nil {
		return errors.Wrapf(err, errors.CodeKafkaConnection, "create topic %s failed", spec.Name)
	}
	response, ok := responses[spec.Name]
	if !ok {
		return errors.Newf(errors.CodeTopicCreationFailed, "no broker response for topic %s", spec.Name)
	}
	if response.Err != nil {
		if response.Err == kerr.TopicAlreadyExists {
			return errors.Newf(errors.CodeTopicAlreadyExists, "topic %s already exists", spec.Name)
		}
		return errors.Wrapf(response.Err, errors.CodeTopicCreationFailed, "create topic %s failed", spec.Name)
	}
	return nil
}

func (a *kafkaAdmin) CreateTopics(ctx context.Context, specs []domain.TopicSpec) map[string]TopicOutcome {
	outcomes := make(map[string]TopicOutcome, len(specs))
	for _, spec := range specs {
		if err := a.CreateTopic(ctx, spec); err != nil {
			outcomes[spec.Name] = TopicOutcome{Message: "create failed", Error: err.Error()}
			continue
		}
		outcomes[spec.Name] = TopicOutcome{Success: true, Message: "created"}
	}
	return outcomes
}

func (a *kafkaAdmin) DeleteTopic(ctx context.Context, name string) error {
	responses, err := a.admin.DeleteTopics(ctx, name)
	if err != nil {
		return errors.Wrapf(err, errors.CodeKafkaConnection, "delete topic %s failed", name)
	}
	response, ok := responses[name]
	if !ok {
		return errors.Newf(errors.CodeTopicDeletionFailed, "no broker response for topic %s", name)
	}
	if response.Err != nil {
		if response.Err == kerr.UnknownTopicOrPartition {
			return errors.Newf(errors.CodeTopicNotFound, "topic %s not found", name)
		}
		return errors.Wrapf(response.Err, errors.CodeTopicDeletionFailed, "delete topic %s failed", name)
	}
	return nil
}

func (a *kafkaAdmin) DeleteTopics(ctx context.Context, names []string) map[string]TopicOutcome {
	outcomes := make(map[string]TopicOutcome, len(names))
	for _, name := range names {
		if err := a.DeleteTopic(ctx, name); err != nil {
			outcomes[name] = TopicOutcome{Message: "delete failed", Error: err.Error()}
			continue
		}
		outcomes[name] = TopicOutcome{Success: true, Message: "deleted"}
	}
	return outcomes
}

func (a *kafkaAdmin) ListTopics(ctx context.Context) ([]string, error) {
	details, err := a.admin.ListTopics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeKafkaConnection, "cannot list topics")
	}
	names := details.Names()
	sort.Strings(names)
	return names, nil
}

func (a *kafkaAdmin) DescribeTopic(ctx context.Context, name string) (*domain.TopicDescription, error) {
	details, err := a.admin.ListTopics(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeKafkaConnection, "cannot describe topic %s", name)
	}
	detail, ok := details[name]
	if !ok || detail.Err == kerr.UnknownTopicOrPartition {
		return nil, errors.Newf(errors.CodeTopicNotFound, "topic %s not found", name)
	}
	if detail.Err != nil {
		return nil, errors.Wrapf(detail.Err, errors.CodeKafkaConnection, "cannot describe topic %s", name)
	}

	description := &domain.TopicDescription{
		Name:       name,
		Partitions: int32(len(detail.Partitions)),
	}
	for _, partition := range detail.Partitions.Sorted() {
		if int16(len(partition.Replicas)) > description.ReplicationFactor {
			description.ReplicationFactor = int16(len(partition.Replicas))
		}
		description.PartitionDetails = append(description.PartitionDetails, domain.PartitionInfo{
			Partition: partition.Partition,
			Leader:    partition.Leader,
			Replicas:  partition.Replicas,
			ISR:       partition.ISR,
		})
	}

	configs, err := a.DescribeTopicConfigs(ctx, name)
	if err != nil {
		return nil, err
	}
	description.Configs = configs

	// End offsets give an upper bound on the message count.
	offsets, err := a.admin.ListEndOffsets(ctx, name)
	if err == nil {
		var total int64
		offsets.Each(func(offset kadm.ListedOffset) {
			total += offset.Offset
		})
		description.MessageCount = &total
	}
	return description, nil
}

func (a *kafkaAdmin) DescribeTopicConfigs(ctx context.Context, name string) (map[string]string, error) {
	resources, err := a.admin.DescribeTopicConfigs(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeKafkaConnection, "cannot describe configs for topic %s", name)
	}
	resource, err := resources.On(name, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeKafkaConnection, "cannot describe configs for topic %s", name)
	}
	if resource.Err != nil {
		return nil, errors.Wrapf(resource.Err, errors.CodeKafkaConnection, "cannot describe configs for topic %s", name)
	}
	configs := make(map[string]string, len(resource.Configs))
	for _, entry := range resource.Configs {
		if entry.Value != nil {
			configs[entry.Key] = *entry.Value
		}
	}
	return configs, nil
}

func (a *kafkaAdmin) AlterTopicConfigs(ctx context.Context, name string, configs map[string]string) error {
	alterations := make([]kadm.AlterConfig, 0, len(configs))
	for key, value := range configs {
		value := value
		alterations = append(alterations, kadm.AlterConfig{Op: kadm.SetConfig, Name: key, Value: &value})
	}
	responses, err := a.admin.AlterTopicConfigs(ctx, alterations, name)
	if err != nil {
		return errors.Wrapf(err, errors.CodeKafkaConnection, "cannot alter configs for topic %s", name)
	}
	for _, response := range responses {
		if response.Err != nil {
			return errors.Wrapf(response.Err, errors.CodeTopicConfigUpdateFailed, "cannot alter configs for topic %s", name)
		}
	}
	return nil
}

func (a *kafkaAdmin) DescribeCluster(ctx context.Context) (*domain.ClusterInfo, error) {
	metadata, err := a.admin.Metadata(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeKafkaConnection, "cannot fetch cluster metadata")
	}

	info := &domain.ClusterInfo{
		ClusterID:   metadata.Cluster,
		BrokerCount: len(metadata.Brokers),
		TopicCount:  len(metadata.Topics),
	}
	for _, broker := range metadata.Brokers {
		info.Brokers = append(info.Brokers, domain.BrokerInfo{
			ID:   broker.NodeID,
			Host: broker.Host,
			Port: broker.Port,
		})
	}
	sort.Slice(info.Brokers, func(i, j int) bool { return info.Brokers[i].ID < info.Brokers[j].ID })
	if metadata.Controller >= 0 {
		controller := metadata.Controller
		info.ControllerID = &controller
	}
	return info, nil
}

func (a *kafkaAdmin) Ping(ctx context.Context) error {
	if _, err := a.admin.Metadata(ctx); err != nil {
		return errors.Wrap(err, errors.CodeKafkaConnection, "cluster unreachable")
	}
	return nil
}

func (a *kafkaAdmin) Close() {
	a.client.Close()
}

// RetentionMsOrDefault reads retention.ms from a config map, falling
// back to the broker default when absent or unparsable.
func RetentionMsOrDefault(configs map[string]string) int64 {
	raw, ok := configs["retention.ms"]
	if !ok {
		return domain.DefaultRetentionMs
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.DefaultRetentionMs
	}
	return value
}
