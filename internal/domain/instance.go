package domain

import (
	"time"
)

// InstanceStatus represents the lifecycle state of a provisioned cluster.
type InstanceStatus string

const (
	InstanceStatusPending  InstanceStatus = "pending"
	InstanceStatusCreating InstanceStatus = "creating"
	InstanceStatusRunning  InstanceStatus = "running"
	InstanceStatusStopping InstanceStatus = "stopping"
	InstanceStatusStopped  InstanceStatus = "stopped"
	InstanceStatusError    InstanceStatus = "error"
)

// ProviderKind selects the runtime substrate a cluster is materialised on.
type ProviderKind string

const (
	ProviderDocker     ProviderKind = "docker"
	ProviderKubernetes ProviderKind = "kubernetes"
	ProviderTerraform  ProviderKind = "terraform"
)

// KnownProviderKinds lists every recognized provider key.
func KnownProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderDocker, ProviderKubernetes, ProviderTerraform}
}

// PlanID values of the service catalog.
const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

// ServiceID is the single catalog entry exposed by the marketplace surface.
const ServiceID = "kafka-service"

// SSLConfig carries keystore material for TLS-enabled clusters.
type SSLConfig struct {
	KeystoreLocation   string `json:"keystoreLocation,omitempty"`
	KeystorePassword   string `json:"keystorePassword,omitempty"`
	TruststoreLocation string `json:"truststoreLocation,omitempty"`
	TruststorePassword string `json:"truststorePassword,omitempty"`
	KeyPassword        string `json:"keyPassword,omitempty"`
	CACert             string `json:"caCert,omitempty"`
	SkipVerify         bool   `json:"skipVerify,omitempty"`
}

// SASLMechanism enumerates the supported authentication mechanisms.
type SASLMechanism string

const (
	SASLPlain       SASLMechanism = "PLAIN"
	SASLScramSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLScramSHA512 SASLMechanism = "SCRAM-SHA-512"
	SASLGSSAPI      SASLMechanism = "GSSAPI"
)

// SASLConfig carries SASL credentials for a cluster.
type SASLConfig struct {
	Mechanism SASLMechanism `json:"mechanism"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
}

// ConnectionInfo describes how clients reach a provisioned cluster.
// Present iff the instance has ever reached running.
type ConnectionInfo struct {
	BootstrapServers   []string    `json:"bootstrapServers"`
	CoordinatorConnect string      `json:"coordinatorConnect,omitempty"`
	SSL                *SSLConfig  `json:"ssl,omitempty"`
	SASL               *SASLConfig `json:"sasl,omitempty"`
}

// ServiceInstance is one provisioned Kafka cluster managed by the agent.
type ServiceInstance struct {
	InstanceID       string                 `json:"instanceId"`
	ServiceID        string                 `json:"serviceId"`
	PlanID           string                 `json:"planId"`
	OrganizationGUID string                 `json:"organizationGuid"`
	SpaceGUID        string                 `json:"spaceGuid"`
	Parameters       map[string]interface{} `json:"parameters"`
	Status           InstanceStatus         `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	RuntimeProvider  ProviderKind           `json:"runtimeProvider"`
	RuntimeConfig    map[string]interface{} `json:"runtimeConfig"`
	ConnectionInfo   *ConnectionInfo        `json:"connectionInfo,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
}

// NewServiceInstance creates a pending instance with timestamps set.
func NewServiceInstance(instanceID, serviceID, planID, orgGUID, spaceGUID string, params map[string]interface{}) *ServiceInstance {
	now := time.Now().UTC()
	if params == nil {
		params = make(map[string]interface{})
	}
	return &ServiceInstance{
		InstanceID:       instanceID,
		ServiceID:        serviceID,
		PlanID:           planID,
		OrganizationGUID: orgGUID,
		SpaceGUID:        spaceGUID,
		Parameters:       params,
		Status:           InstanceStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		RuntimeConfig:    make(map[string]interface{}),
	}
}

// Touch advances the update timestamp, keeping it monotonic.
func (i *ServiceInstance) Touch() {
	now := time.Now().UTC()
	if !now.After(i.UpdatedAt) {
		now = i.UpdatedAt.Add(time.Microsecond)
	}
	i.UpdatedAt = now
}

// MarkRunning transitions the instance into running with its endpoints.
func (i *ServiceInstance) MarkRunning(info *ConnectionInfo) {
	i.Status = InstanceStatusRunning
	i.ConnectionInfo = info
	i.ErrorMessage = ""
	i.Touch()
}

// MarkError transitions the instance into error with a message.
func (i *ServiceInstance) MarkError(message string) {
	i.Status = InstanceStatusError
	if message == "" {
		message = "unknown error"
	}
	i.ErrorMessage = message
	i.Touch()
}

// AuditEntry is one append-only record of an operator-visible action.
type AuditEntry struct {
	ID         int64                  `json:"id"`
	InstanceID string                 `json:"instanceId,omitempty"`
	Operation  string                 `json:"operation"`
	UserID     string                 `json:"userId,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Audit operation verbs written by the orchestrator and topic service.
const (
	AuditProvisionStart       = "provision_start"
	AuditProvisionSuccess     = "provision_success"
	AuditProvisionFailed      = "provision_failed"
	AuditProvisionException   = "provision_exception"
	AuditDeprovisionStart     = "deprovision_start"
	AuditDeprovisionSuccess   = "deprovision_success"
	AuditDeprovisionFailed    = "deprovision_failed"
	AuditDeprovisionException = "deprovision_exception"
)
