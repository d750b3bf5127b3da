package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/community"
)

// CommunityStore implements community.Store with an in-memory map.
type CommunityStore struct {
	communities map[string]*community.Community
	mu          sync.RWMutex
}

// NewCommunityStore creates a new in-memory community store.
func NewCommunityStore() *CommunityStore {
	return &CommunityStore{
		communities: make(map[string]*community.Community),
	}
}

// GetCommunity returns a community by ID.
func (s *CommunityStore) GetCommunity(ctx context.Context, id string) (*community.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.communities[id]
	if !ok {
		return nil, community.ErrNotFound
	}
	return c.Clone(), nil
}

// SaveCommunity creates or updates a community.
func (s *CommunityStore) SaveCommunity(ctx context.Context, c *community.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation.
	s.communities[c.ID] = c.Clone()
	return nil
}

// Compile-time interface verification.
var _ community.Store = (*CommunityStore)(nil)
