package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

const (
	instanceLabel = "kafka-ops-agent.instance"
	roleLabel     = "kafka-ops-agent.role"

	coordinatorPort = 2181
	internalPort    = 29092

	dockerPollInterval     = 10 * time.Second
	dockerReadinessTimeout = 5 * time.Minute
)

// DockerProvider runs clusters as containers on a local engine: one
// coordinator, N brokers, named volumes, and a per-instance bridge
// network.
type DockerProvider struct {
	client dockerclient.APIClient
	cfg    config.DockerProviderConfig
	logger *logrus.Logger
}

// NewDockerProvider connects to the engine via environment defaults.
func NewDockerProvider(cfg config.DockerProviderConfig, logger *logrus.Logger) (*DockerProvider, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderInitFailed, "cannot connect to container engine")
	}
	return &DockerProvider{client: cli, cfg: cfg, logger: logger}, nil
}

func (p *DockerProvider) Kind() domain.ProviderKind { return domain.ProviderDocker }

func (p *DockerProvider) networkName(instanceID string) string {
	return "kafka-" + instanceID + "-net"
}

func (p *DockerProvider) coordinatorName(instanceID string) string {
	return "kafka-" + instanceID + "-coordinator"
}

func (p *DockerProvider) brokerName(instanceID string, broker int) string {
	return fmt.Sprintf("kafka-%s-broker-%d", instanceID, broker)
}

func (p *DockerProvider) labels(instanceID, role string) map[string]string {
	return map[string]string{instanceLabel: instanceID, roleLabel: role}
}

func (p *DockerProvider) instanceFilter(instanceID string) filters.Args {
	return filters.NewArgs(filters.Arg("label", instanceLabel+"="+instanceID))
}

// manifest is the compose-style description written next to the
// containers, kept for operator inspection and cleanup bookkeeping.
type manifest struct {
	InstanceID string            `json:"instance_id"`
	Network    string            `json:"network"`
	Containers []string          `json:"containers"`
	Volumes    []string          `json:"volumes"`
	HostPorts  map[string]int    `json:"host_ports"`
	Labels     map[string]string `json:"labels"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (p *DockerProvider) manifestPath(instanceID string) string {
	return filepath.Join(p.cfg.ManifestDir, instanceID, "manifest.json")
}

func (p *DockerProvider) writeManifest(m *manifest) error {
	path := p.manifestPath(m.InstanceID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (p *DockerProvider) Provision(ctx context.Context, instanceID string, cfg domain.ClusterConfig) (*ProvisionResult, error) {
	log := p.logger.WithFields(logrus.Fields{"instance_id": instanceID, "provider": "docker"})
	log.WithField("brokers", cfg.ClusterSize).Info("provisioning cluster")

	fail := func(err error) (*ProvisionResult, error) {
		log.WithError(err).Error("provisioning failed, cleaning up")
		if cleanupErr := p.Deprovision(context.WithoutCancel(ctx), instanceID); cleanupErr != nil {
			log.WithError(cleanupErr).Warn("cleanup after failed provisioning incomplete")
		}
		return &ProvisionResult{Status: StateFailed, InstanceID: instanceID, Error: err.Error()}, nil
	}

	networkName := p.networkName(instanceID)
	if _, err := p.client.NetworkCreate(ctx, networkName, network.CreateOptions{
		Driver: "bridge",
		Labels: p.labels(instanceID, "network"),
	}); err != nil {
		return fail(errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create network"))
	}

	m := &manifest{
		InstanceID: instanceID,
		Network:    networkName,
		HostPorts:  make(map[string]int),
		Labels:     p.labels(instanceID, ""),
		CreatedAt:  time.Now().UTC(),
	}

	coordinator := p.coordinatorName(instanceID)
	coordinatorVolume := coordinator + "-data"
	if _, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   coordinatorVolume,
		Labels: p.labels(instanceID, "coordinator-data"),
	}); err != nil {
		return fail(errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create coordinator volume"))
	}
	m.Volumes = append(m.Volumes, coordinatorVolume)

	if err := p.startContainer(ctx, containerSpec{
		name:    coordinator,
		image:   p.cfg.CoordinatorImage,
		network: networkName,
		volume:  coordinatorVolume,
		mount:   "/var/lib/zookeeper/data",
		labels:  p.labels(instanceID, "coordinator"),
		env: []string{
			"ZOOKEEPER_CLIENT_PORT=" + strconv.Itoa(coordinatorPort),
			"ZOOKEEPER_TICK_TIME=2000",
		},
	}); err != nil {
		return fail(err)
	}
	m.Containers = append(m.Containers, coordinator)

	for broker := 0; broker < cfg.ClusterSize; broker++ {
		name := p.brokerName(instanceID, broker)
		brokerVolume := name + "-data"
		hostPort := p.cfg.BaseBrokerPort + broker

		if _, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
			Name:   brokerVolume,
			Labels: p.labels(instanceID, "broker-data"),
		}); err != nil {
			return fail(errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot create volume for broker %d", broker))
		}
		m.Volumes = append(m.Volumes, brokerVolume)

		if err := p.startContainer(ctx, containerSpec{
			name:     name,
			image:    p.cfg.Image,
			network:  networkName,
			volume:   brokerVolume,
			mount:    "/var/lib/kafka/data",
			labels:   p.labels(instanceID, "broker"),
			hostPort: hostPort,
			env: []string{
				"KAFKA_BROKER_ID=" + strconv.Itoa(broker),
				"KAFKA_ZOOKEEPER_CONNECT=" + coordinator + ":" + strconv.Itoa(coordinatorPort),
				fmt.Sprintf("KAFKA_ADVERTISED_LISTENERS=PLAINTEXT://localhost:%d,INTERNAL://%s:%d", hostPort, name, internalPort),
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP=PLAINTEXT:PLAINTEXT,INTERNAL:PLAINTEXT",
				"KAFKA_INTER_BROKER_LISTENER_NAME=INTERNAL",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR=" + strconv.Itoa(cfg.ReplicationFactor),
				"KAFKA_DEFAULT_REPLICATION_FACTOR=" + strconv.Itoa(cfg.ReplicationFactor),
				"KAFKA_NUM_PARTITIONS=" + strconv.Itoa(cfg.PartitionCount),
				"KAFKA_LOG_RETENTION_HOURS=" + strconv.Itoa(cfg.RetentionHours),
			},
		}); err != nil {
			return fail(err)
		}
		m.Containers = append(m.Containers, name)
		m.HostPorts[name] = hostPort
	}

	if err := p.writeManifest(m); err != nil {
		log.WithError(err).Warn("cannot write manifest")
	}

	if err := p.waitRunning(ctx, instanceID, len(m.Containers)); err != nil {
		return fail(err)
	}

	info, err := p.ConnectionInfo(ctx, instanceID)
	if err != nil {
		return fail(err)
	}
	log.Info("cluster provisioned")
	return &ProvisionResult{Status: StateSucceeded, InstanceID: instanceID, ConnectionInfo: info}, nil
}

type containerSpec struct {
	name     string
	image    string
	network  string
	volume   string
	mount    string
	labels   map[string]string
	env      []string
	hostPort int
}

func (p *DockerProvider) startContainer(ctx context.Context, spec containerSpec) error {
	containerCfg := &container.Config{
		Image:  spec.image,
		Env:    spec.env,
		Labels: spec.labels,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{spec.volume + ":" + spec.mount},
	}
	if spec.hostPort > 0 {
		port := nat.Port(strconv.Itoa(spec.hostPort) + "/tcp")
		containerCfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.hostPort)}},
		}
	}
	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{spec.network: {}},
	}

	created, err := p.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, spec.name)
	if err != nil {
		return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot create container %s", spec.name)
	}
	if err := p.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot start container %s", spec.name)
	}
	return nil
}

// waitRunning polls until every labeled container reports running.
func (p *DockerProvider) waitRunning(ctx context.Context, instanceID string, expected int) error {
	deadline := time.Now().Add(dockerReadinessTimeout)
	ticker := time.NewTicker(dockerPollInterval)
	defer ticker.Stop()

	for {
		running, err := p.runningContainers(ctx, instanceID)
		if err != nil {
			return err
		}
		if running >= expected {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Newf(errors.CodeClusterProvisioningFailed, "only %d of %d containers running after %s", running, expected, dockerReadinessTimeout)
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.CodeClusterProvisioningFailed, "provisioning cancelled")
		case <-ticker.C:
		}
	}
}

func (p *DockerProvider) runningContainers(ctx context.Context, instanceID string) (int, error) {
	summaries, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: p.instanceFilter(instanceID),
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot list containers")
	}
	running := 0
	for _, summary := range summaries {
		if summary.State == container.StateRunning {
			running++
		}
	}
	return running, nil
}

// Deprovision removes containers, volumes, the network, and the
// manifest directory. Missing resources are ignored.
func (p *DockerProvider) Deprovision(ctx context.Context, instanceID string) error {
	summaries, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: p.instanceFilter(instanceID),
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot list containers")
	}
	for _, summary := range summaries {
		if err := p.client.ContainerRemove(ctx, summary.ID, container.RemoveOptions{Force: true}); err != nil && !dockerclient.IsErrNotFound(err) {
			return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot remove container %s", summary.ID)
		}
	}

	volumes, err := p.client.VolumeList(ctx, volume.ListOptions{Filters: p.instanceFilter(instanceID)})
	if err != nil {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot list volumes")
	}
	for _, vol := range volumes.Volumes {
		if err := p.client.VolumeRemove(ctx, vol.Name, true); err != nil && !dockerclient.IsErrNotFound(err) {
			return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot remove volume %s", vol.Name)
		}
	}

	if err := p.client.NetworkRemove(ctx, p.networkName(instanceID)); err != nil && !dockerclient.IsErrNotFound(err) {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot remove network")
	}

	if err := os.RemoveAll(filepath.Join(p.cfg.ManifestDir, instanceID)); err != nil {
		p.logger.WithError(err).WithField("instance_id", instanceID).Warn("cannot remove manifest directory")
	}
	return nil
}

func (p *DockerProvider) Status(ctx context.Context, instanceID string) (OperationState, error) {
	summaries, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: p.instanceFilter(instanceID),
	})
	if err != nil {
		return StateFailed, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot list containers")
	}
	if len(summaries) == 0 {
		return StateFailed, nil
	}
	running := 0
	for _, summary := range summaries {
		if summary.State == container.StateRunning {
			running++
		}
	}
	switch running {
	case len(summaries):
		return StateSucceeded, nil
	case 0:
		return StateFailed, nil
	default:
		return StateInProgress, nil
	}
}

// ConnectionInfo derives bootstrap servers from the engine's published
// host ports.
func (p *DockerProvider) ConnectionInfo(ctx context.Context, instanceID string) (*domain.ConnectionInfo, error) {
	summaries, err := p.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", instanceLabel+"="+instanceID),
			filters.Arg("label", roleLabel+"=broker"),
		),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot list brokers")
	}
	if len(summaries) == 0 {
		return nil, errors.Newf(errors.CodeClusterNotFound, "no brokers found for instance %s", instanceID)
	}

	var servers []string
	for _, summary := range summaries {
		for _, port := range summary.Ports {
			if port.PublicPort > 0 {
				servers = append(servers, fmt.Sprintf("localhost:%d", port.PublicPort))
				break
			}
		}
	}
	if len(servers) == 0 {
		return nil, errors.Newf(errors.CodeClusterNotFound, "no published ports for instance %s", instanceID)
	}
	return &domain.ConnectionInfo{
		BootstrapServers:   servers,
		CoordinatorConnect: p.coordinatorName(instanceID) + ":" + strconv.Itoa(coordinatorPort),
	}, nil
}

func (p *DockerProvider) HealthCheck(ctx context.Context, instanceID string) bool {
	state, err := p.Status(ctx, instanceID)
	return err == nil && state == StateSucceeded
}
