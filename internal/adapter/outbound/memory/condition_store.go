package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/condition"
)

// ConditionStore implements condition.Store with in-memory maps. Instances
// are indexed by source and by gating action for re-resolution lookups.
type ConditionStore struct {
	instances map[string]condition.Instance
	bySource  map[string]string   // source key -> instance ID
	byAction  map[string][]string // action ID -> instance IDs in creation order
	mu        sync.RWMutex
}

// NewConditionStore creates a new in-memory condition store.
func NewConditionStore() *ConditionStore {
	return &ConditionStore{
		instances: make(map[string]condition.Instance),
		bySource:  make(map[string]string),
		byAction:  make(map[string][]string),
	}
}

// GetInstance returns an instance by ID.
func (s *ConditionStore) GetInstance(ctx context.Context, id string) (condition.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, condition.ErrNotFound
	}
	return inst.Clone(), nil
}

// SaveInstance creates or updates an instance.
func (s *ConditionStore) SaveInstance(ctx context.Context, inst condition.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID()]; !exists {
		src := inst.Source()
		s.bySource[src.Key()] = inst.ID()
		s.byAction[src.ActionID] = append(s.byAction[src.ActionID], inst.ID())
	}
	// Store a copy to prevent external mutation.
	s.instances[inst.ID()] = inst.Clone()
	return nil
}

// InstanceForSource returns the instance bound to the source.
func (s *ConditionStore) InstanceForSource(ctx context.Context, src condition.Source) (condition.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySource[src.Key()]
	if !ok {
		return nil, condition.ErrNotFound
	}
	return s.instances[id].Clone(), nil
}

// InstancesForAction returns all instances spawned by the action.
func (s *ConditionStore) InstancesForAction(ctx context.Context, actionID string) ([]condition.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAction[actionID]
	result := make([]condition.Instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := s.instances[id]; ok {
			result = append(result, inst.Clone())
		}
	}
	return result, nil
}

// Compile-time interface verification.
var _ condition.Store = (*ConditionStore)(nil)
