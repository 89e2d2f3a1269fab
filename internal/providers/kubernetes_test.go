package providers

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
)

func newK8sProvider(serviceType string) (*KubernetesProvider, *fake.Clientset) {
	client := fake.NewSimpleClientset()
	p := NewKubernetesProviderWithClient(client, config.KubernetesProviderConfig{
		NamespacePrefix: "kafka-",
		ServiceType:     serviceType,
		Image:           "confluentinc/cp-kafka:7.6.0",
	}, logrus.New())
	return p, client
}

func TestKubernetesManifests(t *testing.T) {
	p, _ := newK8sProvider("ClusterIP")
	cfg := domain.MultiNodeClusterConfig()

	sts := p.statefulSet("inst-1", "broker", int32(cfg.ClusterSize), p.cfg.Image, brokerPort, nil, cfg.StorageSizeGB)
	require.NotNil(t, sts.Spec.Replicas)
	assert.EqualValues(t, 3, *sts.Spec.Replicas)

	claim := sts.Spec.VolumeClaimTemplates[0]
	storage := claim.Spec.Resources.Requests[corev1.ResourceStorage]
	assert.Equal(t, "50Gi", storage.String())

	broker := sts.Spec.Template.Spec.Containers[0]
	require.NotNil(t, broker.ReadinessProbe)
	require.NotNil(t, broker.ReadinessProbe.TCPSocket)
	assert.EqualValues(t, brokerPort, broker.ReadinessProbe.TCPSocket.Port.IntValue())
	assert.NotEmpty(t, broker.Resources.Requests)
	assert.NotEmpty(t, broker.Resources.Limits)

	service := p.service("inst-1", "broker", brokerPort)
	assert.Equal(t, corev1.ServiceTypeClusterIP, service.Spec.Type)
}

func TestKubernetesStorageClass(t *testing.T) {
	p, _ := newK8sProvider("ClusterIP")
	p.cfg.StorageClass = "fast-ssd"

	sts := p.statefulSet("inst-1", "broker", 1, p.cfg.Image, brokerPort, nil, 10)
	require.NotNil(t, sts.Spec.VolumeClaimTemplates[0].Spec.StorageClassName)
	assert.Equal(t, "fast-ssd", *sts.Spec.VolumeClaimTemplates[0].Spec.StorageClassName)
}

func TestKubernetesConnectionInfoClusterIP(t *testing.T) {
	p, client := newK8sProvider("ClusterIP")
	ctx := context.Background()

	service := p.service("inst-1", "broker", brokerPort)
	service.Spec.ClusterIP = "10.96.0.42"
	_, err := client.CoreV1().Services("kafka-inst-1").Create(ctx, service, metav1.CreateOptions{})
	require.NoError(t, err)

	info, err := p.ConnectionInfo(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.96.0.42:9092"}, info.BootstrapServers)
	assert.Equal(t, "kafka-coordinator.kafka-inst-1.svc:2181", info.CoordinatorConnect)
}

func TestKubernetesConnectionInfoNodePort(t *testing.T) {
	p, client := newK8sProvider("NodePort")
	ctx := context.Background()

	service := p.service("inst-1", "broker", brokerPort)
	service.Spec.Ports[0].NodePort = 30092
	_, err := client.CoreV1().Services("kafka-inst-1").Create(ctx, service, metav1.CreateOptions{})
	require.NoError(t, err)

	_, err = client.CoreV1().Nodes().Create(ctx, &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status: corev1.NodeStatus{Addresses: []corev1.NodeAddress{
			{Type: corev1.NodeInternalIP, Address: "192.168.1.10"},
		}},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	info, err := p.ConnectionInfo(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.10:30092"}, info.BootstrapServers)
}

func TestKubernetesStatus(t *testing.T) {
	p, client := newK8sProvider("ClusterIP")
	ctx := context.Background()

	state, err := p.Status(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	sts := p.statefulSet("inst-1", "broker", 3, p.cfg.Image, brokerPort, nil, 10)
	_, err = client.AppsV1().StatefulSets("kafka-inst-1").Create(ctx, sts, metav1.CreateOptions{})
	require.NoError(t, err)

	state, err = p.Status(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, state)

	sts.Status.ReadyReplicas = 3
	_, err = client.AppsV1().StatefulSets("kafka-inst-1").UpdateStatus(ctx, sts, metav1.UpdateOptions{})
	require.NoError(t, err)

	state, err = p.Status(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, state)
	assert.True(t, p.HealthCheck(ctx, "inst-1"))
}

func TestKubernetesDeprovisionIsIdempotent(t *testing.T) {
	p, client := newK8sProvider("ClusterIP")
	ctx := context.Background()

	// Unknown namespace: nothing to do.
	require.NoError(t, p.Deprovision(ctx, "ghost"))

	require.NoError(t, p.ensureNamespace(ctx, "inst-1"))
	sts := p.statefulSet("inst-1", "broker", 1, p.cfg.Image, brokerPort, nil, 10)
	_, err := client.AppsV1().StatefulSets("kafka-inst-1").Create(ctx, sts, metav1.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, p.Deprovision(ctx, "inst-1"))

	_, err = client.CoreV1().Namespaces().Get(ctx, "kafka-inst-1", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get(domain.ProviderDocker)
	require.Error(t, err)

	p, _ := newK8sProvider("ClusterIP")
	registry.Register(p)

	got, err := registry.Get(domain.ProviderKubernetes)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderKubernetes, got.Kind())
	assert.Equal(t, []domain.ProviderKind{domain.ProviderKubernetes}, registry.Kinds())
}
