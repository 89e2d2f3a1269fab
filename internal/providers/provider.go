// Package providers materialises Kafka clusters on runtime substrates:
// a local container engine, a Kubernetes cluster, or cloud
// infrastructure driven by terraform.
package providers

import (
	"context"
	"sync"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// OperationState is the provider-visible state of an instance.
type OperationState string

const (
	StatePending    OperationState = "pending"
	StateInProgress OperationState = "in_progress"
	StateSucceeded  OperationState = "succeeded"
	StateFailed     OperationState = "failed"
)

// ProvisionResult is the outcome of a provisioning attempt.
type ProvisionResult struct {
	Status         OperationState         `json:"status"`
	InstanceID     string                 `json:"instance_id"`
	ConnectionInfo *domain.ConnectionInfo `json:"connection_info,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Provisioner materialises and tears down clusters on one substrate.
// Implementations may block internally; failed provisioning attempts
// clean up after themselves best-effort.
type Provisioner interface {
	Kind() domain.ProviderKind
	Provision(ctx context.Context, instanceID string, cfg domain.ClusterConfig) (*ProvisionResult, error)
	// Deprovision is idempotent: tearing down a non-existent instance
	// succeeds.
	Deprovision(ctx context.Context, instanceID string) error
	// Status returns StateFailed for unknown instances.
	Status(ctx context.Context, instanceID string) (OperationState, error)
	ConnectionInfo(ctx context.Context, instanceID string) (*domain.ConnectionInfo, error)
	// HealthCheck returns false for unknown instances.
	HealthCheck(ctx context.Context, instanceID string) bool
}

// Registry holds the configured provisioners keyed by kind.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ProviderKind]Provisioner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.ProviderKind]Provisioner)}
}

// Register adds or replaces a provisioner.
func (r *Registry) Register(p Provisioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Kind()] = p
}

// Get returns the provisioner for kind or PROVIDER_NOT_FOUND.
func (r *Registry) Get(kind domain.ProviderKind) (Provisioner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, errors.Newf(errors.CodeProviderNotFound, "no provider registered for %q", kind)
	}
	return p, nil
}

// Kinds lists the registered provider kinds.
func (r *Registry) Kinds() []domain.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.ProviderKind, 0, len(r.providers))
	for kind := range r.providers {
		kinds = append(kinds, kind)
	}
	return kinds
}
