package providers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
)

func newTerraformProvider(t *testing.T, backend string) *TerraformProvider {
	t.Helper()
	p, err := NewTerraformProvider(config.TerraformProviderConfig{
		Binary:  "terraform",
		WorkDir: t.TempDir(),
		Backend: backend,
		Region:  "us-east-1",
	}, logrus.New())
	require.NoError(t, err)
	return p
}

func readBundle(t *testing.T, p *TerraformProvider, instanceID string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.workDir(instanceID), "main.tf.json"))
	require.NoError(t, err)
	var bundle map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &bundle))
	return bundle
}

func TestTerraformAWSBundle(t *testing.T) {
	p := newTerraformProvider(t, "aws")
	cfg := domain.MultiNodeClusterConfig()
	require.NoError(t, p.generateBundle("inst-1", cfg))

	bundle := readBundle(t, p, "inst-1")
	resources := bundle["resource"].(map[string]interface{})

	instances := resources["aws_instance"].(map[string]interface{})
	// One coordinator plus three brokers.
	assert.Len(t, instances, 4)
	assert.Contains(t, instances, "coordinator")
	assert.Contains(t, instances, "broker_0")
	assert.Contains(t, instances, "broker_2")

	sg := resources["aws_security_group"].(map[string]interface{})["kafka"].(map[string]interface{})
	ingress := sg["ingress"].([]interface{})
	assert.Len(t, ingress, 4)
	quorum := ingress[2].(map[string]interface{})
	assert.EqualValues(t, 2888, quorum["from_port"])
	assert.EqualValues(t, 3888, quorum["to_port"])

	outputs := bundle["output"].(map[string]interface{})
	servers := outputs["bootstrap_servers"].(map[string]interface{})["value"].([]interface{})
	assert.Len(t, servers, 3)
}

func TestTerraformGCPBundle(t *testing.T) {
	p := newTerraformProvider(t, "gcp")
	require.NoError(t, p.generateBundle("inst-1", domain.SingleNodeClusterConfig()))

	bundle := readBundle(t, p, "inst-1")
	resources := bundle["resource"].(map[string]interface{})
	assert.Contains(t, resources, "google_compute_network")
	assert.Contains(t, resources, "google_compute_firewall")

	instances := resources["google_compute_instance"].(map[string]interface{})
	assert.Len(t, instances, 2)
}

func TestTerraformAzureBundle(t *testing.T) {
	p := newTerraformProvider(t, "azure")
	cfg := domain.MultiNodeClusterConfig()
	require.NoError(t, p.generateBundle("inst-1", cfg))

	bundle := readBundle(t, p, "inst-1")
	resources := bundle["resource"].(map[string]interface{})
	assert.Contains(t, resources, "azurerm_resource_group")
	assert.Contains(t, resources, "azurerm_network_security_group")
	assert.Contains(t, resources, "azurerm_subnet_network_security_group_association")

	machines := resources["azurerm_linux_virtual_machine"].(map[string]interface{})
	// One coordinator plus three brokers, each with its own NIC and
	// public address.
	assert.Len(t, machines, 4)
	assert.Contains(t, machines, "coordinator")
	assert.Contains(t, machines, "broker_0")
	assert.Contains(t, machines, "broker_2")
	assert.Len(t, resources["azurerm_network_interface"].(map[string]interface{}), 4)
	assert.Len(t, resources["azurerm_public_ip"].(map[string]interface{}), 4)

	coordinator := machines["coordinator"].(map[string]interface{})
	assert.NotEmpty(t, coordinator["custom_data"])

	outputs := bundle["output"].(map[string]interface{})
	servers := outputs["bootstrap_servers"].(map[string]interface{})["value"].([]interface{})
	require.Len(t, servers, 3)
	assert.Contains(t, servers[0], ":9092")
	connect := outputs["coordinator_connect"].(map[string]interface{})["value"].(string)
	assert.Contains(t, connect, ":2181")
}

func TestTerraformUnknownBackend(t *testing.T) {
	p := newTerraformProvider(t, "aws")
	p.cfg.Backend = "metal"
	require.Error(t, p.generateBundle("inst-1", domain.SingleNodeClusterConfig()))
}

func TestTerraformDeprovisionIsIdempotent(t *testing.T) {
	p := newTerraformProvider(t, "aws")
	// No working directory: nothing to do.
	require.NoError(t, p.Deprovision(context.Background(), "ghost"))

	// Bundle without state: directory removed without destroy.
	require.NoError(t, p.generateBundle("inst-1", domain.SingleNodeClusterConfig()))
	require.NoError(t, p.Deprovision(context.Background(), "inst-1"))
	_, err := os.Stat(p.workDir("inst-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestTerraformStatus(t *testing.T) {
	p := newTerraformProvider(t, "aws")
	ctx := context.Background()

	state, err := p.Status(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	require.NoError(t, p.generateBundle("inst-1", domain.SingleNodeClusterConfig()))
	state, err = p.Status(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, state)
}

func TestPortRange(t *testing.T) {
	from, to := portRange("9092")
	assert.Equal(t, 9092, from)
	assert.Equal(t, 9092, to)

	from, to = portRange("2888-3888")
	assert.Equal(t, 2888, from)
	assert.Equal(t, 3888, to)
}
