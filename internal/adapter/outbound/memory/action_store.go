package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/action"
)

// ActionStore implements action.Store with in-memory maps.
type ActionStore struct {
	actions     map[string]*action.Action
	byContainer map[string][]string // container ID -> action IDs in creation order
	mu          sync.RWMutex
}

// NewActionStore creates a new in-memory action store.
func NewActionStore() *ActionStore {
	return &ActionStore{
		actions:     make(map[string]*action.Action),
		byContainer: make(map[string][]string),
	}
}

// GetAction returns an action by ID.
func (s *ActionStore) GetAction(ctx context.Context, id string) (*action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, action.ErrNotFound
	}
	return a.Clone(), nil
}

// SaveAction creates or updates an action.
func (s *ActionStore) SaveAction(ctx context.Context, a *action.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, known := s.actions[a.ID]
	if a.ContainerID != "" && (!known || existing.ContainerID != a.ContainerID) {
		s.byContainer[a.ContainerID] = append(s.byContainer[a.ContainerID], a.ID)
	}
	// Store a copy to prevent external mutation.
	s.actions[a.ID] = a.Clone()
	return nil
}

// ActionsForContainer returns a container's members in creation order.
func (s *ActionStore) ActionsForContainer(ctx context.Context, containerID string) ([]*action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byContainer[containerID]
	result := make([]*action.Action, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.actions[id]; ok {
			result = append(result, a.Clone())
		}
	}
	return result, nil
}

// Compile-time interface verification.
var _ action.Store = (*ActionStore)(nil)
