package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/container"
)

// ContainerStore implements container.Store with an in-memory map.
type ContainerStore struct {
	containers map[string]*container.Container
	mu         sync.RWMutex
}

// NewContainerStore creates a new in-memory container store.
func NewContainerStore() *ContainerStore {
	return &ContainerStore{
		containers: make(map[string]*container.Container),
	}
}

// GetContainer returns a container by ID.
func (s *ContainerStore) GetContainer(ctx context.Context, id string) (*container.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.containers[id]
	if !ok {
		return nil, container.ErrNotFound
	}
	return c.Clone(), nil
}

// SaveContainer creates or updates a container.
func (s *ContainerStore) SaveContainer(ctx context.Context, c *container.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation.
	s.containers[c.ID] = c.Clone()
	return nil
}

// Compile-time interface verification.
var _ container.Store = (*ContainerStore)(nil)
