package memory

import (
	"context"
	"sync"

	"github.com/agora-works/agora/internal/domain/community"
)

// ActorDirectory implements community.ActorDirectory with an in-memory
// attribute map. Unknown actors return an empty attribute set.
type ActorDirectory struct {
	attrs map[string]map[string]any
	mu    sync.RWMutex
}

// NewActorDirectory creates a new in-memory actor directory.
func NewActorDirectory() *ActorDirectory {
	return &ActorDirectory{
		attrs: make(map[string]map[string]any),
	}
}

// SetAttributes replaces an actor's attribute map.
func (d *ActorDirectory) SetAttributes(actor string, attrs map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	d.attrs[actor] = cp
}

// Attributes returns the attribute map for an actor.
func (d *ActorDirectory) Attributes(ctx context.Context, actor string) (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	attrs, ok := d.attrs[actor]
	if !ok {
		return map[string]any{}, nil
	}
	cp := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp, nil
}

// Compile-time interface verification.
var _ community.ActorDirectory = (*ActorDirectory)(nil)
