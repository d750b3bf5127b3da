// Package memory provides in-memory store implementations.
// Thread-safe for concurrent access. For development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/entity"
)

// ResourceStore implements entity.ResourceStore with an in-memory map.
type ResourceStore struct {
	resources map[string]*entity.Resource
	mu        sync.RWMutex
}

// NewResourceStore creates a new in-memory resource store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		resources: make(map[string]*entity.Resource),
	}
}

// GetResource returns a resource by ID.
func (s *ResourceStore) GetResource(ctx context.Context, id string) (*entity.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, entity.ErrResourceNotFound
	}
	return r.Clone(), nil
}

// SaveResource creates or updates a resource.
func (s *ResourceStore) SaveResource(ctx context.Context, r *entity.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation.
	s.resources[r.ID] = r.Clone()
	return nil
}

// DeleteResource removes a resource by ID.
func (s *ResourceStore) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; !ok {
		return entity.ErrResourceNotFound
	}
	delete(s.resources, id)
	return nil
}

// Compile-time interface verification.
var _ entity.ResourceStore = (*ResourceStore)(nil)
