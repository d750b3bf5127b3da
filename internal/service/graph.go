package service

import (
	"context"
	"fmt"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// EntityGraph resolves polymorphic entity references to their live records.
// Every kind an action can target is dispatched here, which is what lets
// permissions, conditions, and communities flow through the same pipeline
// as plain resources.
type EntityGraph struct {
	resources   entity.ResourceStore
	communities community.Store
	permissions permission.Store
	conditions  condition.Store
}

// NewEntityGraph creates an EntityGraph over the given stores.
func NewEntityGraph(
	resources entity.ResourceStore,
	communities community.Store,
	permissions permission.Store,
	conditions condition.Store,
) *EntityGraph {
	return &EntityGraph{
		resources:   resources,
		communities: communities,
		permissions: permissions,
		conditions:  conditions,
	}
}

// Resolve returns the permissionable entity behind a reference.
func (g *EntityGraph) Resolve(ctx context.Context, ref entity.Ref) (entity.Permissionable, error) {
	switch ref.Kind {
	case entity.KindResource:
		return g.resources.GetResource(ctx, ref.ID)
	case entity.KindCommunity:
		return g.communities.GetCommunity(ctx, ref.ID)
	case entity.KindPermission:
		return g.permissions.GetPermission(ctx, ref.ID)
	case entity.KindCondition:
		return g.conditions.GetInstance(ctx, ref.ID)
	default:
		return nil, fmt.Errorf("unknown entity kind %q in ref %s", ref.Kind, ref)
	}
}
