package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// fileDocument is the on-disk shape of the embedded store.
type fileDocument struct {
	Instances   map[string]*domain.ServiceInstance `json:"instances"`
	AuditLog    []*domain.AuditEntry               `json:"audit_log"`
	NextAuditID int64                              `json:"next_audit_id"`
}

// FileStore keeps everything in one JSON file. Writes are atomic via
// rename; a single mutex serializes access. Intended for development
// and tests, not for concurrent multi-process use.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  fileDocument
}

// NewFileStore opens or creates the store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc: fileDocument{
			Instances:   make(map[string]*domain.ServiceInstance),
			NextAuditID: 1,
		},
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, errors.CodeStorageConnectionFailed, "cannot create store directory for %s", path)
		}
	case err != nil:
		return nil, errors.Wrapf(err, errors.CodeStorageConnectionFailed, "cannot read store file %s", path)
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, errors.Wrapf(err, errors.CodeStorageConnectionFailed, "store file %s is corrupt", path)
		}
		if s.doc.Instances == nil {
			s.doc.Instances = make(map[string]*domain.ServiceInstance)
		}
		if s.doc.NextAuditID == 0 {
			s.doc.NextAuditID = 1
		}
	}
	return s, nil
}

// flush writes the document to a sibling temp file and renames it over
// the store file. Callers must hold the mutex.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot serialize store")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot write store file %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot replace store file %s", s.path)
	}
	return nil
}

func copyInstance(in *domain.ServiceInstance) *domain.ServiceInstance {
	data, _ := json.Marshal(in)
	out := &domain.ServiceInstance{}
	_ = json.Unmarshal(data, out)
	return out
}

func (s *FileStore) Create(ctx context.Context, instance *domain.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.doc.Instances[instance.InstanceID]; taken {
		return errors.Newf(errors.CodeInstanceAlreadyExists, "instance %s already exists", instance.InstanceID)
	}
	s.doc.Instances[instance.InstanceID] = copyInstance(instance)
	return s.flush()
}

func (s *FileStore) Get(ctx context.Context, instanceID string) (*domain.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.doc.Instances[instanceID]
	if !ok {
		return nil, errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	return copyInstance(instance), nil
}

func (s *FileStore) Update(ctx context.Context, instance *domain.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Instances[instance.InstanceID]; !ok {
		return errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instance.InstanceID)
	}
	s.doc.Instances[instance.InstanceID] = copyInstance(instance)
	return s.flush()
}

func (s *FileStore) Delete(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Instances[instanceID]; !ok {
		return errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	delete(s.doc.Instances, instanceID)
	// Audit rows follow the instance, mirroring the relational cascade.
	s.doc.AuditLog = lo.Filter(s.doc.AuditLog, func(entry *domain.AuditEntry, _ int) bool {
		return entry.InstanceID != instanceID
	})
	return s.flush()
}

func (s *FileStore) List(ctx context.Context, filters InstanceFilters) ([]*domain.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ServiceInstance, 0, len(s.doc.Instances))
	for _, instance := range s.doc.Instances {
		if filters.Status != "" && instance.Status != filters.Status {
			continue
		}
		if filters.PlanID != "" && instance.PlanID != filters.PlanID {
			continue
		}
		if filters.Provider != "" && instance.RuntimeProvider != filters.Provider {
			continue
		}
		out = append(out, copyInstance(instance))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) Exists(ctx context.Context, instanceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.Instances[instanceID]
	return ok, nil
}

func (s *FileStore) ListByStatus(ctx context.Context, status domain.InstanceStatus) ([]*domain.ServiceInstance, error) {
	return s.List(ctx, InstanceFilters{Status: status})
}

func (s *FileStore) Log(ctx context.Context, instanceID, operation, userID string, details map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &domain.AuditEntry{
		ID:         s.doc.NextAuditID,
		InstanceID: instanceID,
		Operation:  operation,
		UserID:     userID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	s.doc.NextAuditID++
	s.doc.AuditLog = append(s.doc.AuditLog, entry)
	return s.flush()
}

func (s *FileStore) Query(ctx context.Context, instanceID, operation string, limit int) ([]*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := lo.Filter(s.doc.AuditLog, func(entry *domain.AuditEntry, _ int) bool {
		if instanceID != "" && entry.InstanceID != instanceID {
			return false
		}
		if operation != "" && entry.Operation != operation {
			return false
		}
		return true
	})
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*domain.AuditEntry, len(matched))
	copy(out, matched)
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}
