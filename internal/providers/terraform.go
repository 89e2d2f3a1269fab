package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// Per-step timeouts for terraform invocations.
const (
	tfInitTimeout    = 5 * time.Minute
	tfPlanTimeout    = 2 * time.Minute
	tfApplyTimeout   = 30 * time.Minute
	tfDestroyTimeout = 30 * time.Minute
	tfOutputTimeout  = 1 * time.Minute
)

// firewallPorts are opened on the cluster's security group: SSH, the
// coordinator client and quorum ports, and the broker port.
var firewallPorts = []string{"22", "2181", "2888-3888", "9092"}

// TerraformProvider provisions clusters as cloud VMs through generated
// .tf.json bundles and the terraform binary.
type TerraformProvider struct {
	cfg    config.TerraformProviderConfig
	logger *logrus.Logger
}

// NewTerraformProvider validates the working directory and returns the
// provider.
func NewTerraformProvider(cfg config.TerraformProviderConfig, logger *logrus.Logger) (*TerraformProvider, error) {
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderInitFailed, "cannot create terraform working directory")
	}
	return &TerraformProvider{cfg: cfg, logger: logger}, nil
}

func (p *TerraformProvider) Kind() domain.ProviderKind { return domain.ProviderTerraform }

func (p *TerraformProvider) workDir(instanceID string) string {
	return filepath.Join(p.cfg.WorkDir, instanceID)
}

// generateBundle writes the per-instance .tf.json files for the
// configured backend.
func (p *TerraformProvider) generateBundle(instanceID string, cfg domain.ClusterConfig) error {
	dir := p.workDir(instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot create instance working directory")
	}

	var bundle map[string]interface{}
	switch p.cfg.Backend {
	case "aws":
		bundle = p.awsBundle(instanceID, cfg)
	case "gcp":
		bundle = p.gcpBundle(instanceID, cfg)
	case "azure":
		bundle = p.azureBundle(instanceID, cfg)
	default:
		return errors.Newf(errors.CodeConfiguration, "unsupported terraform backend %q", p.cfg.Backend)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot serialize terraform bundle")
	}
	return os.WriteFile(filepath.Join(dir, "main.tf.json"), data, 0o600)
}

// coordinatorUserData installs and systemd-enables the coordinator
// process.
func coordinatorUserData() string {
	return `#!/bin/bash
set -e
apt-get update && apt-get install -y openjdk-17-jre-headless
curl -fsSL https://downloads.apache.org/kafka/3.7.0/kafka_2.13-3.7.0.tgz | tar xz -C /opt
mv /opt/kafka_2.13-3.7.0 /opt/kafka
cat > /etc/systemd/system/zookeeper.service <<'EOF'
[Unit]
Description=Apache ZooKeeper
After=network.target
[Service]
ExecStart=/opt/kafka/bin/zookeeper-server-start.sh /opt/kafka/config/zookeeper.properties
Restart=on-failure
[Install]
WantedBy=multi-user.target
EOF
systemctl enable --now zookeeper
`
}

// brokerUserData installs and systemd-enables one broker.
func brokerUserData(brokerID int, coordinatorHost string, cfg domain.ClusterConfig) string {
	return fmt.Sprintf(`#!/bin/bash
set -e
apt-get update && apt-get install -y openjdk-17-jre-headless
curl -fsSL https://downloads.apache.org/kafka/3.7.0/kafka_2.13-3.7.0.tgz | tar xz -C /opt
mv /opt/kafka_2.13-3.7.0 /opt/kafka
cat >> /opt/kafka/config/server.properties <<EOF
broker.id=%d
zookeeper.connect=%s:2181
default.replication.factor=%d
num.partitions=%d
log.retention.hours=%d
EOF
cat > /etc/systemd/system/kafka.service <<'EOF'
[Unit]
Description=Apache Kafka
After=network.target
[Service]
ExecStart=/opt/kafka/bin/kafka-server-start.sh /opt/kafka/config/server.properties
Restart=on-failure
[Install]
WantedBy=multi-user.target
EOF
systemctl enable --now kafka
`, brokerID, coordinatorHost, cfg.ReplicationFactor, cfg.PartitionCount, cfg.RetentionHours)
}

func (p *TerraformProvider) awsBundle(instanceID string, cfg domain.ClusterConfig) map[string]interface{} {
	prefix := "kafka-" + instanceID

	ingress := make([]map[string]interface{}, 0, len(firewallPorts))
	for _, port := range firewallPorts {
		from, to := portRange(port)
		ingress = append(ingress, map[string]interface{}{
			"from_port":   from,
			"to_port":     to,
			"protocol":    "tcp",
			"cidr_blocks": []string{"0.0.0.0/0"},
		})
	}

	instances := map[string]interface{}{
		"coordinator": map[string]interface{}{
			"ami":                    "${data.aws_ami.ubuntu.id}",
			"instance_type":          "t3.medium",
			"subnet_id":              "${aws_subnet.main.id}",
			"vpc_security_group_ids": []string{"${aws_security_group.kafka.id}"},
			"user_data":              coordinatorUserData(),
			"tags":                   map[string]string{"Name": prefix + "-coordinator", "Instance": instanceID},
		},
	}
	for broker := 0; broker < cfg.ClusterSize; broker++ {
		instances[fmt.Sprintf("broker_%d", broker)] = map[string]interface{}{
			"ami":                    "${data.aws_ami.ubuntu.id}",
			"instance_type":          "t3.large",
			"subnet_id":              "${aws_subnet.main.id}",
			"vpc_security_group_ids": []string{"${aws_security_group.kafka.id}"},
			"user_data":              brokerUserData(broker, "${aws_instance.coordinator.private_ip}", cfg),
			"root_block_device":      map[string]interface{}{"volume_size": cfg.StorageSizeGB},
			"tags":                   map[string]string{"Name": fmt.Sprintf("%s-broker-%d", prefix, broker), "Instance": instanceID},
		}
	}

	bootstrapRefs := make([]string, 0, cfg.ClusterSize)
	for broker := 0; broker < cfg.ClusterSize; broker++ {
		bootstrapRefs = append(bootstrapRefs, fmt.Sprintf("${aws_instance.broker_%d.public_ip}:9092", broker))
	}

	return map[string]interface{}{
		"provider": map[string]interface{}{
			"aws": map[string]interface{}{"region": p.cfg.Region},
		},
		"data": map[string]interface{}{
			"aws_ami": map[string]interface{}{
				"ubuntu": map[string]interface{}{
					"most_recent": true,
					"owners":      []string{"099720109477"},
					"filter": []map[string]interface{}{{
						"name":   "name",
						"values": []string{"ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"},
					}},
				},
			},
		},
		"resource": map[string]interface{}{
			"aws_vpc": map[string]interface{}{
				"main": map[string]interface{}{
					"cidr_block": "10.0.0.0/16",
					"tags":       map[string]string{"Name": prefix + "-vpc"},
				},
			},
			"aws_subnet": map[string]interface{}{
				"main": map[string]interface{}{
					"vpc_id":     "${aws_vpc.main.id}",
					"cidr_block": "10.0.1.0/24",
					"tags":       map[string]string{"Name": prefix + "-subnet"},
				},
			},
			"aws_security_group": map[string]interface{}{
				"kafka": map[string]interface{}{
					"name":    prefix + "-sg",
					"vpc_id":  "${aws_vpc.main.id}",
					"ingress": ingress,
					"egress": []map[string]interface{}{{
						"from_port":   0,
						"to_port":     0,
						"protocol":    "-1",
						"cidr_blocks": []string{"0.0.0.0/0"},
					}},
				},
			},
			"aws_instance": instances,
		},
		"output": map[string]interface{}{
			"bootstrap_servers": map[string]interface{}{
				"value": bootstrapRefs,
			},
			"coordinator_connect": map[string]interface{}{
				"value": "${aws_instance.coordinator.public_ip}:2181",
			},
		},
	}
}

func (p *TerraformProvider) gcpBundle(instanceID string, cfg domain.ClusterConfig) map[string]interface{} {
	prefix := "kafka-" + instanceID

	instances := map[string]interface{}{
		"coordinator": map[string]interface{}{
			"name":         prefix + "-coordinator",
			"machine_type": "e2-medium",
			"zone":         p.cfg.Region + "-a",
			"boot_disk": map[string]interface{}{
				"initialize_params": map[string]interface{}{"image": "ubuntu-os-cloud/ubuntu-2204-lts"},
			},
			"network_interface": map[string]interface{}{
				"subnetwork":    "${google_compute_subnetwork.main.id}",
				"access_config": map[string]interface{}{},
			},
			"metadata_startup_script": coordinatorUserData(),
		},
	}
	bootstrapRefs := make([]string, 0, cfg.ClusterSize)
	for broker := 0; broker < cfg.ClusterSize; broker++ {
		key := fmt.Sprintf("broker_%d", broker)
		instances[key] = map[string]interface{}{
			"name":         fmt.Sprintf("%s-broker-%d", prefix, broker),
			"machine_type": "e2-standard-2",
			"zone":         p.cfg.Region + "-a",
			"boot_disk": map[string]interface{}{
				"initialize_params": map[string]interface{}{
					"image": "ubuntu-os-cloud/ubuntu-2204-lts",
					"size":  cfg.StorageSizeGB,
				},
			},
			"network_interface": map[string]interface{}{
				"subnetwork":    "${google_compute_subnetwork.main.id}",
				"access_config": map[string]interface{}{},
			},
			"metadata_startup_script": brokerUserData(broker, "${google_compute_instance.coordinator.network_interface.0.network_ip}", cfg),
		}
		bootstrapRefs = append(bootstrapRefs, fmt.Sprintf("${google_compute_instance.%s.network_interface.0.access_config.0.nat_ip}:9092", key))
	}

	return map[string]interface{}{
		"provider": map[string]interface{}{
			"google": map[string]interface{}{"region": p.cfg.Region},
		},
		"resource": map[string]interface{}{
			"google_compute_network": map[string]interface{}{
				"main": map[string]interface{}{
					"name":                    prefix + "-net",
					"auto_create_subnetworks": false,
				},
			},
			"google_compute_subnetwork": map[string]interface{}{
				"main": map[string]interface{}{
					"name":          prefix + "-subnet",
					"network":       "${google_compute_network.main.id}",
					"ip_cidr_range": "10.0.1.0/24",
					"region":        p.cfg.Region,
				},
			},
			"google_compute_firewall": map[string]interface{}{
				"kafka": map[string]interface{}{
					"name":    prefix + "-fw",
					"network": "${google_compute_network.main.id}",
					"allow": []map[string]interface{}{{
						"protocol": "tcp",
						"ports":    firewallPorts,
					}},
					"source_ranges": []string{"0.0.0.0/0"},
				},
			},
			"google_compute_instance": instances,
		},
		"output": map[string]interface{}{
			"bootstrap_servers":   map[string]interface{}{"value": bootstrapRefs},
			"coordinator_connect": map[string]interface{}{"value": "${google_compute_instance.coordinator.network_interface.0.access_config.0.nat_ip}:2181"},
		},
	}
}

func (p *TerraformProvider) azureBundle(instanceID string, cfg domain.ClusterConfig) map[string]interface{} {
	prefix := "kafka-" + instanceID

	securityRules := make([]map[string]interface{}, 0, len(firewallPorts))
	for i, port := range firewallPorts {
		securityRules = append(securityRules, map[string]interface{}{
			"name":                       fmt.Sprintf("allow-%d", i),
			"priority":                   100 + i*10,
			"direction":                  "Inbound",
			"access":                     "Allow",
			"protocol":                   "Tcp",
			"source_port_range":          "*",
			"destination_port_range":     port,
			"source_address_prefix":      "*",
			"destination_address_prefix": "*",
		})
	}

	// The coordinator keeps a fixed private address so broker startup
	// scripts can be rendered (and base64-encoded) ahead of apply.
	const coordinatorPrivateIP = "10.0.1.4"

	sourceImage := map[string]interface{}{
		"publisher": "Canonical",
		"offer":     "0001-com-ubuntu-server-jammy",
		"sku":       "22_04-lts-gen2",
		"version":   "latest",
	}
	vm := func(name, size, customData string, nicRef string, diskGB int) map[string]interface{} {
		machine := map[string]interface{}{
			"name":                            name,
			"resource_group_name":             "${azurerm_resource_group.main.name}",
			"location":                        p.cfg.Region,
			"size":                            size,
			"admin_username":                  "kafkaops",
			"admin_password":                  "Kop1-" + instanceID,
			"disable_password_authentication": false,
			"network_interface_ids":           []string{nicRef},
			"custom_data":                     base64.StdEncoding.EncodeToString([]byte(customData)),
			"os_disk": map[string]interface{}{
				"caching":              "ReadWrite",
				"storage_account_type": "Standard_LRS",
			},
			"source_image_reference": sourceImage,
		}
		if diskGB > 0 {
			machine["os_disk"].(map[string]interface{})["disk_size_gb"] = diskGB
		}
		return machine
	}
	nic := func(name, publicIPRef string, privateIP string) map[string]interface{} {
		ipConfig := map[string]interface{}{
			"name":                 "primary",
			"subnet_id":            "${azurerm_subnet.main.id}",
			"public_ip_address_id": publicIPRef,
		}
		if privateIP != "" {
			ipConfig["private_ip_address_allocation"] = "Static"
			ipConfig["private_ip_address"] = privateIP
		} else {
			ipConfig["private_ip_address_allocation"] = "Dynamic"
		}
		return map[string]interface{}{
			"name":                prefix + "-" + name + "-nic",
			"resource_group_name": "${azurerm_resource_group.main.name}",
			"location":            p.cfg.Region,
			"ip_configuration":    ipConfig,
		}
	}
	publicIP := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"name":                prefix + "-" + name + "-ip",
			"resource_group_name": "${azurerm_resource_group.main.name}",
			"location":            p.cfg.Region,
			"allocation_method":   "Static",
		}
	}

	publicIPs := map[string]interface{}{"coordinator": publicIP("coordinator")}
	nics := map[string]interface{}{
		"coordinator": nic("coordinator", "${azurerm_public_ip.coordinator.id}", coordinatorPrivateIP),
	}
	machines := map[string]interface{}{
		"coordinator": vm(prefix+"-coordinator", "Standard_B2s", coordinatorUserData(),
			"${azurerm_network_interface.coordinator.id}", 0),
	}
	bootstrapRefs := make([]string, 0, cfg.ClusterSize)
	for broker := 0; broker < cfg.ClusterSize; broker++ {
		key := fmt.Sprintf("broker_%d", broker)
		publicIPs[key] = publicIP(key)
		nics[key] = nic(key, fmt.Sprintf("${azurerm_public_ip.%s.id}", key), "")
		machines[key] = vm(fmt.Sprintf("%s-broker-%d", prefix, broker), "Standard_D2s_v3",
			brokerUserData(broker, coordinatorPrivateIP, cfg),
			fmt.Sprintf("${azurerm_network_interface.%s.id}", key), cfg.StorageSizeGB)
		bootstrapRefs = append(bootstrapRefs, fmt.Sprintf("${azurerm_public_ip.%s.ip_address}:9092", key))
	}

	return map[string]interface{}{
		"provider": map[string]interface{}{
			"azurerm": map[string]interface{}{"features": map[string]interface{}{}},
		},
		"resource": map[string]interface{}{
			"azurerm_resource_group": map[string]interface{}{
				"main": map[string]interface{}{
					"name":     prefix + "-rg",
					"location": p.cfg.Region,
				},
			},
			"azurerm_virtual_network": map[string]interface{}{
				"main": map[string]interface{}{
					"name":                prefix + "-vnet",
					"resource_group_name": "${azurerm_resource_group.main.name}",
					"location":            p.cfg.Region,
					"address_space":       []string{"10.0.0.0/16"},
				},
			},
			"azurerm_subnet": map[string]interface{}{
				"main": map[string]interface{}{
					"name":                 prefix + "-subnet",
					"resource_group_name":  "${azurerm_resource_group.main.name}",
					"virtual_network_name": "${azurerm_virtual_network.main.name}",
					"address_prefixes":     []string{"10.0.1.0/24"},
				},
			},
			"azurerm_network_security_group": map[string]interface{}{
				"kafka": map[string]interface{}{
					"name":                prefix + "-nsg",
					"resource_group_name": "${azurerm_resource_group.main.name}",
					"location":            p.cfg.Region,
					"security_rule":       securityRules,
				},
			},
			"azurerm_subnet_network_security_group_association": map[string]interface{}{
				"main": map[string]interface{}{
					"subnet_id":                 "${azurerm_subnet.main.id}",
					"network_security_group_id": "${azurerm_network_security_group.kafka.id}",
				},
			},
			"azurerm_public_ip":             publicIPs,
			"azurerm_network_interface":     nics,
			"azurerm_linux_virtual_machine": machines,
		},
		"output": map[string]interface{}{
			"bootstrap_servers":   map[string]interface{}{"value": bootstrapRefs},
			"coordinator_connect": map[string]interface{}{"value": "${azurerm_public_ip.coordinator.ip_address}:2181"},
		},
	}
}

func portRange(port string) (int, int) {
	var from, to int
	if _, err := fmt.Sscanf(port, "%d-%d", &from, &to); err == nil {
		return from, to
	}
	fmt.Sscanf(port, "%d", &from)
	return from, from
}

// run executes one terraform step with its own timeout.
func (p *TerraformProvider) run(ctx context.Context, dir string, timeout time.Duration, args ...string) ([]byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, p.cfg.Binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.WithFields(logrus.Fields{"dir": dir, "args": args}).Debug("running terraform")
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeProviderOperationFail,
			"terraform %s failed: %s", args[0], stderr.String())
	}
	return stdout.Bytes(), nil
}

func (p *TerraformProvider) Provision(ctx context.Context, instanceID string, cfg domain.ClusterConfig) (*ProvisionResult, error) {
	log := p.logger.WithFields(logrus.Fields{"instance_id": instanceID, "provider": "terraform", "backend": p.cfg.Backend})
	log.Info("provisioning cluster")

	fail := func(err error) (*ProvisionResult, error) {
		log.WithError(err).Error("provisioning failed, destroying partial infrastructure")
		if cleanupErr := p.Deprovision(context.WithoutCancel(ctx), instanceID); cleanupErr != nil {
			log.WithError(cleanupErr).Warn("cleanup after failed provisioning incomplete")
		}
		return &ProvisionResult{Status: StateFailed, InstanceID: instanceID, Error: err.Error()}, nil
	}

	if err := p.generateBundle(instanceID, cfg); err != nil {
		return fail(err)
	}
	dir := p.workDir(instanceID)

	if _, err := p.run(ctx, dir, tfInitTimeout, "init", "-input=false"); err != nil {
		return fail(err)
	}
	if _, err := p.run(ctx, dir, tfPlanTimeout, "plan", "-input=false", "-out=tfplan"); err != nil {
		return fail(err)
	}
	if _, err := p.run(ctx, dir, tfApplyTimeout, "apply", "-input=false", "-auto-approve", "tfplan"); err != nil {
		return fail(err)
	}

	info, err := p.readOutputs(ctx, instanceID)
	if err != nil {
		return fail(err)
	}
	log.Info("cluster provisioned")
	return &ProvisionResult{Status: StateSucceeded, InstanceID: instanceID, ConnectionInfo: info}, nil
}

// readOutputs parses `terraform output -json`.
func (p *TerraformProvider) readOutputs(ctx context.Context, instanceID string) (*domain.ConnectionInfo, error) {
	raw, err := p.run(ctx, p.workDir(instanceID), tfOutputTimeout, "output", "-json")
	if err != nil {
		return nil, err
	}

	var outputs map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &outputs); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot parse terraform outputs")
	}

	info := &domain.ConnectionInfo{}
	if servers, ok := outputs["bootstrap_servers"]; ok {
		if err := json.Unmarshal(servers.Value, &info.BootstrapServers); err != nil {
			return nil, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot parse bootstrap_servers output")
		}
	}
	if coordinator, ok := outputs["coordinator_connect"]; ok {
		if err := json.Unmarshal(coordinator.Value, &info.CoordinatorConnect); err != nil {
			return nil, errors.Wrap(err, errors.CodeProviderOperationFail, "cannot parse coordinator_connect output")
		}
	}
	if len(info.BootstrapServers) == 0 {
		return nil, errors.New(errors.CodeClusterProvisioningFailed, "terraform outputs carry no bootstrap servers")
	}
	return info, nil
}

// Deprovision destroys the infrastructure and removes the working
// directory. A missing directory means nothing to do.
func (p *TerraformProvider) Deprovision(ctx context.Context, instanceID string) error {
	dir := p.workDir(instanceID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if _, err := os.Stat(filepath.Join(dir, "terraform.tfstate")); err == nil {
		if _, err := p.run(ctx, dir, tfDestroyTimeout, "destroy", "-input=false", "-auto-approve"); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, errors.CodeProviderOperationFail, "cannot remove working directory")
	}
	return nil
}

func (p *TerraformProvider) Status(ctx context.Context, instanceID string) (OperationState, error) {
	dir := p.workDir(instanceID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return StateFailed, nil
	}
	if _, err := os.Stat(filepath.Join(dir, "terraform.tfstate")); os.IsNotExist(err) {
		return StateInProgress, nil
	}
	if _, err := p.readOutputs(ctx, instanceID); err != nil {
		return StateFailed, nil
	}
	return StateSucceeded, nil
}

func (p *TerraformProvider) ConnectionInfo(ctx context.Context, instanceID string) (*domain.ConnectionInfo, error) {
	return p.readOutputs(ctx, instanceID)
}

func (p *TerraformProvider) HealthCheck(ctx context.Context, instanceID string) bool {
	state, err := p.Status(ctx, instanceID)
	return err == nil && state == StateSucceeded
}
