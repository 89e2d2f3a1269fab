package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

const (
	brokerPort = 9092

	k8sPollInterval     = 10 * time.Second
	k8sReadinessTimeout = 10 * time.Minute
)

// KubernetesProvider runs clusters as StatefulSets in a per-instance
// namespace.
type KubernetesProvider struct {
	client kubernetes.Interface
	cfg    config.KubernetesProviderConfig
	logger *logrus.Logger
}

// NewKubernetesProvider builds a clientset from the configured
// kubeconfig, falling back to in-cluster credentials.
func NewKubernetesProvider(cfg config.KubernetesProviderConfig, logger *logrus.Logger) (*KubernetesProvider, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderInitFailed, "cannot load kubernetes credentials")
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderInitFailed, "cannot create kubernetes client")
	}
	return &KubernetesProvider{client: client, cfg: cfg, logger: logger}, nil
}

// NewKubernetesProviderWithClient injects a clientset, used in tests.
func NewKubernetesProviderWithClient(client kubernetes.Interface, cfg config.KubernetesProviderConfig, logger *logrus.Logger) *KubernetesProvider {
	return &KubernetesProvider{client: client, cfg: cfg, logger: logger}
}

func (p *KubernetesProvider) Kind() domain.ProviderKind { return domain.ProviderKubernetes }

func (p *KubernetesProvider) namespace(instanceID string) string {
	return p.cfg.NamespacePrefix + instanceID
}

func (p *KubernetesProvider) ensureNamespace(ctx context.Context, instanceID string) error {
	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   p.namespace(instanceID),
			Labels: map[string]string{instanceLabel: instanceID},
		},
	}
	_, err := p.client.CoreV1().Namespaces().Create(ctx, namespace, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create namespace")
	}
	return nil
}

func tcpProbe(port int) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(int32(port))},
		},
		InitialDelaySeconds: 30,
		PeriodSeconds:       10,
	}
}

func (p *KubernetesProvider) statefulSet(instanceID, role string, replicas int32, image string, port int, env []corev1.EnvVar, storageGB int) *appsv1.StatefulSet {
	name := "kafka-" + role
	labels := map[string]string{
		instanceLabel: instanceID,
		roleLabel:     role,
		"app":         name,
	}
	volumeMode := corev1.PersistentVolumeFilesystem

	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    &replicas,
			ServiceName: name,
			Selector:    &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  role,
						Image: image,
						Ports: []corev1.ContainerPort{{ContainerPort: int32(port)}},
						Env:   env,
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("250m"),
								corev1.ResourceMemory: resource.MustParse("512Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("1"),
								corev1.ResourceMemory: resource.MustParse("2Gi"),
							},
						},
						ReadinessProbe: tcpProbe(port),
						LivenessProbe:  tcpProbe(port),
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "data",
							MountPath: "/var/lib/" + role,
						}},
					}},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{{
				ObjectMeta: metav1.ObjectMeta{Name: "data", Labels: labels},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
					VolumeMode:  &volumeMode,
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse(strconv.Itoa(storageGB) + "Gi"),
						},
					},
				},
			}},
		},
	}
	if p.cfg.StorageClass != "" {
		sts.Spec.VolumeClaimTemplates[0].Spec.StorageClassName = &p.cfg.StorageClass
	}
	return sts
}

func (p *KubernetesProvider) service(instanceID, role string, port int) *corev1.Service {
	name := "kafka-" + role
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{instanceLabel: instanceID, roleLabel: role},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceType(p.cfg.ServiceType),
			Selector: map[string]string{"app": name},
			Ports: []corev1.ServicePort{{
				Name:       role,
				Port:       int32(port),
				TargetPort: intstr.FromInt32(int32(port)),
			}},
		},
	}
}

func (p *KubernetesProvider) Provision(ctx context.Context, instanceID string, cfg domain.ClusterConfig) (*ProvisionResult, error) {
	log := p.logger.WithFields(logrus.Fields{"instance_id": instanceID, "provider": "kubernetes"})
	log.WithField("brokers", cfg.ClusterSize).Info("provisioning cluster")

	fail := func(err error) (*ProvisionResult, error) {
		log.WithError(err).Error("provisioning failed, cleaning up")
		if cleanupErr := p.Deprovision(context.WithoutCancel(ctx), instanceID); cleanupErr != nil {
			log.WithError(cleanupErr).Warn("cleanup after failed provisioning incomplete")
		}
		return &ProvisionResult{Status: StateFailed, InstanceID: instanceID, Error: err.Error()}, nil
	}

	if err := p.ensureNamespace(ctx, instanceID); err != nil {
		return fail(err)
	}
	namespace := p.namespace(instanceID)

	coordinatorEnv := []corev1.EnvVar{
		{Name: "ZOOKEEPER_CLIENT_PORT", Value: strconv.Itoa(coordinatorPort)},
		{Name: "ZOOKEEPER_TICK_TIME", Value: "2000"},
	}
	coordinator := p.statefulSet(instanceID, "coordinator", 1, p.cfg.Image, coordinatorPort, coordinatorEnv, cfg.StorageSizeGB)
	if _, err := p.client.AppsV1().StatefulSets(namespace).Create(ctx, coordinator, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fail(errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create coordinator workload"))
	}
	if _, err := p.client.CoreV1().Services(namespace).Create(ctx, p.service(instanceID, "coordinator", coordinatorPort), metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fail(errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create coordinator service"))
	}

	brokerEnv := []corev1.EnvVar{
		{Name: "KAFKA_ZOOKEEPER_CONNECT", Value: "kafka-coordinator:" + strconv.Itoa(coordinatorPort)},
		{Name: "KAFKA_ADVERTISED_LISTENERS", Value: "PLAINTEXT://kafka-broker:" + strconv.Itoa(brokerPort)},
		{Name: "KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR", Value: strconv.Itoa(cfg.ReplicationFactor)},
		{Name: "KAFKA_DEFAULT_REPLICATION_FACTOR", Value: strconv.Itoa(cfg.ReplicationFactor)},
		{Name: "KAFKA_NUM_PARTITIONS", Value: strconv.Itoa(cfg.PartitionCount)},
		{Name: "KAFKA_LOG_RETENTION_HOURS", Value: strconv.Itoa(cfg.RetentionHours)},
	}
	broker := p.statefulSet(instanceID, "broker", int32(cfg.ClusterSize), p.cfg.Image, brokerPort, brokerEnv, cfg.StorageSizeGB)
	if _, err := p.client.AppsV1().StatefulSets(namespace).Create(ctx, broker, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fail(errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create broker workload"))
	}
	if _, err := p.client.CoreV1().Services(namespace).Create(ctx, p.service(instanceID, "broker", brokerPort), metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fail(errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create broker service"))
	}

	if err := p.waitReady(ctx, instanceID); err != nil {
		return fail(err)
	}

	info, err := p.ConnectionInfo(ctx, instanceID)
	if err != nil {
		return fail(err)
	}
	log.Info("cluster provisioned")
	return &ProvisionResult{Status: StateSucceeded, InstanceID: instanceID, ConnectionInfo: info}, nil
}

// waitReady polls both workloads until every replica reports ready.
func (p *KubernetesProvider) waitReady(ctx context.Context, instanceID string) error {
	namespace := p.namespace(instanceID)
	err := wait.PollUntilContextTimeout(ctx, k8sPollInterval, k8sReadinessTimeout, true, func(ctx context.Context) (bool, error) {
		for _, name := range []string{"kafka-coordinator", "kafka-broker"} {
			sts, err := p.client.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return false, nil
			}
			if sts.Spec.Replicas == nil || sts.Status.ReadyReplicas < *sts.Spec.Replicas {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeClusterProvisioningFailed, "workloads not ready in time")
	}
	return nil
}

// Deprovision deletes workloads, services, claims, and finally the
// namespace. Claims do not cascade and are deleted explicitly.
func (p *KubernetesProvider) Deprovision(ctx context.Context, instanceID string) error {
	namespace := p.namespace(instanceID)

	if _, err := p.client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{}); apierrors.IsNotFound(err) {
		return nil
	}

	for _, name := range []string{"kafka-coordinator", "kafka-broker"} {
		if err := p.client.AppsV1().StatefulSets(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot delete workload %s", name)
		}
		if err := p.client.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot delete service %s", name)
		}
	}

	claims, err := p.client.CoreV1().PersistentVolumeClaims(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: instanceLabel + "=" + instanceID,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot list volume claims")
	}
	if claims != nil {
		for _, claim := range claims.Items {
			if err := p.client.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, claim.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
				return errors.Wrapf(err, errors.CodeProviderOperationFail, "cannot delete volume claim %s", claim.Name)
			}
		}
	}

	if err := p.client.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot delete namespace")
	}
	return nil
}

func (p *KubernetesProvider) Status(ctx context.Context, instanceID string) (OperationState, error) {
	namespace := p.namespace(instanceID)
	sts, err := p.client.AppsV1().StatefulSets(namespace).Get(ctx, "kafka-broker", metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return StateFailed, nil
	}
	if err != nil {
		return StateFailed, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot read broker workload")
	}
	if sts.Spec.Replicas != nil && sts.Status.ReadyReplicas >= *sts.Spec.Replicas {
		return StateSucceeded, nil
	}
	return StateInProgress, nil
}

// ConnectionInfo derives bootstrap servers from the broker service's
// type.
func (p *KubernetesProvider) ConnectionInfo(ctx context.Context, instanceID string) (*domain.ConnectionInfo, error) {
	namespace := p.namespace(instanceID)
	service, err := p.client.CoreV1().Services(namespace).Get(ctx, "kafka-broker", metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeClusterNotFound, "cannot read broker service")
	}

	var server string
	switch service.Spec.Type {
	case corev1.ServiceTypeNodePort:
		nodes, err := p.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{Limit: 1})
		if err != nil || len(nodes.Items) == 0 {
			return nil, errors.New(errors.CodeClusterNotFound, "cannot resolve a node address")
		}
		address := nodeAddress(&nodes.Items[0])
		if len(service.Spec.Ports) == 0 || service.Spec.Ports[0].NodePort == 0 {
			return nil, errors.New(errors.CodeClusterNotFound, "node port not allocated yet")
		}
		server = fmt.Sprintf("%s:%d", address, service.Spec.Ports[0].NodePort)

	case corev1.ServiceTypeLoadBalancer:
		if len(service.Status.LoadBalancer.Ingress) == 0 {
			return nil, errors.New(errors.CodeClusterNotFound, "load balancer address not assigned yet")
		}
		ingress := service.Status.LoadBalancer.Ingress[0]
		host := ingress.IP
		if host == "" {
			host = ingress.Hostname
		}
		server = fmt.Sprintf("%s:%d", host, brokerPort)

	default: // ClusterIP
		server = fmt.Sprintf("%s:%d", service.Spec.ClusterIP, brokerPort)
	}

	return &domain.ConnectionInfo{
		BootstrapServers:   []string{server},
		CoordinatorConnect: fmt.Sprintf("kafka-coordinator.%s.svc:%d", namespace, coordinatorPort),
	}, nil
}

func nodeAddress(node *corev1.Node) string {
	for _, address := range node.Status.Addresses {
		if address.Type == corev1.NodeExternalIP {
			return address.Address
		}
	}
	for _, address := range node.Status.Addresses {
		if address.Type == corev1.NodeInternalIP {
			return address.Address
		}
	}
	return node.Name
}

func (p *KubernetesProvider) HealthCheck(ctx context.Context, instanceID string) bool {
	state, err := p.Status(ctx, instanceID)
	return err == nil && state == StateSucceeded
}
