// Package storage persists service instance metadata and the audit log.
// Two engines are provided: a single-file embedded store for development
// and tests, and a postgres store for real deployments.
package storage

import (
	"context"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
)

// InstanceFilters narrows List results. Zero-valued fields do not filter.
type InstanceFilters struct {
	Status   domain.InstanceStatus
	PlanID   string
	Provider domain.ProviderKind
}

// MetadataStore persists service instances.
type MetadataStore interface {
	// Create inserts a new instance. Returns INSTANCE_ALREADY_EXISTS when
	// the id is taken.
	Create(ctx context.Context, instance *domain.ServiceInstance) error
	// Get returns the instance or INSTANCE_NOT_FOUND.
	Get(ctx context.Context, instanceID string) (*domain.ServiceInstance, error)
	// Update replaces the stored instance or returns INSTANCE_NOT_FOUND.
	Update(ctx context.Context, instance *domain.ServiceInstance) error
	// Delete removes the instance and its audit rows, or returns
	// INSTANCE_NOT_FOUND.
	Delete(ctx context.Context, instanceID string) error
	// List returns instances matching the filters, newest first.
	List(ctx context.Context, filters InstanceFilters) ([]*domain.ServiceInstance, error)
	// Exists reports whether the instance id is present.
	Exists(ctx context.Context, instanceID string) (bool, error)
	// ListByStatus returns instances in the given status, newest first.
	ListByStatus(ctx context.Context, status domain.InstanceStatus) ([]*domain.ServiceInstance, error)
	// Close releases the engine.
	Close() error
}

// AuditStore records operator-visible actions append-only.
type AuditStore interface {
	// Log appends one audit entry.
	Log(ctx context.Context, instanceID, operation, userID string, details map[string]interface{}) error
	// Query returns entries most-recent-first. Empty instanceID or
	// operation match everything; limit <= 0 means no limit.
	Query(ctx context.Context, instanceID, operation string, limit int) ([]*domain.AuditEntry, error)
}

// Store bundles both interfaces; each engine implements both over the
// same backing file or database.
type Store interface {
	MetadataStore
	AuditStore
}
