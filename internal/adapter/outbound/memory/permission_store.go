package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// PermissionStore implements permission.Store with in-memory maps. Records
// are indexed by target so matching loads one slice per evaluation.
type PermissionStore struct {
	records  map[string]*permission.Record
	byTarget map[string][]string // target ref string -> record IDs in creation order
	mu       sync.RWMutex
}

// NewPermissionStore creates a new in-memory permission store.
func NewPermissionStore() *PermissionStore {
	return &PermissionStore{
		records:  make(map[string]*permission.Record),
		byTarget: make(map[string][]string),
	}
}

// GetPermission returns a record by ID.
func (s *PermissionStore) GetPermission(ctx context.Context, id string) (*permission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, permission.ErrNotFound
	}
	return r.Clone(), nil
}

// PermissionsForTarget returns all records scoped to the target in creation
// order.
func (s *PermissionStore) PermissionsForTarget(ctx context.Context, target entity.Ref) ([]*permission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTarget[target.String()]
	result := make([]*permission.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			result = append(result, r.Clone())
		}
	}
	return result, nil
}

// SavePermission creates or updates a record.
func (s *PermissionStore) SavePermission(ctx context.Context, r *permission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Target.String()
	if existing, ok := s.records[r.ID]; ok {
		// Re-index if the target changed.
		if existing.Target != r.Target {
			s.unindex(existing)
			s.byTarget[key] = append(s.byTarget[key], r.ID)
		}
	} else {
		s.byTarget[key] = append(s.byTarget[key], r.ID)
	}
	s.records[r.ID] = r.Clone()
	return nil
}

// DeletePermission removes a record by ID.
func (s *PermissionStore) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return permission.ErrNotFound
	}
	s.unindex(r)
	delete(s.records, id)
	return nil
}

// unindex removes the record ID from its target's index slice. Caller holds
// the write lock.
func (s *PermissionStore) unindex(r *permission.Record) {
	key := r.Target.String()
	ids := s.byTarget[key]
	for i, id := range ids {
		if id == r.ID {
			s.byTarget[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byTarget[key]) == 0 {
		delete(s.byTarget, key)
	}
}

// Compile-time interface verification.
var _ permission.Store = (*PermissionStore)(nil)
