// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/entity"
)

// RoleService answers role and authority membership questions. It backs the
// permission matcher's RoleResolver and the resolver's owner and governor
// checks. Assigned roles are looked up in the community's stored role set;
// automated roles are computed by evaluating the role's predicate against
// the actor's directory attributes.
type RoleService struct {
	communities community.Store
	predicates  community.PredicateEvaluator
	directory   community.ActorDirectory
	logger      *slog.Logger
}

// NewRoleService creates a RoleService. The predicate evaluator and actor
// directory may be nil, in which case automated roles never match.
func NewRoleService(
	communities community.Store,
	predicates community.PredicateEvaluator,
	directory community.ActorDirectory,
	logger *slog.Logger,
) *RoleService {
	return &RoleService{
		communities: communities,
		predicates:  predicates,
		directory:   directory,
		logger:      logger,
	}
}

// HasRole implements permission.RoleResolver. A pair naming a nonexistent
// community or role wraps community.ErrInconsistentRoleData so the matcher
// can skip it instead of failing the evaluation.
func (s *RoleService) HasRole(ctx context.Context, actor string, pair entity.RolePair) (bool, error) {
	com, err := s.communities.GetCommunity(ctx, pair.Community)
	if err != nil {
		return false, fmt.Errorf("%w: community %q: %v", community.ErrInconsistentRoleData, pair.Community, err)
	}

	if com.Roles.HasAssigned(pair.Role, actor) {
		return true, nil
	}

	if expr, ok := com.Roles.AutomatedPredicate(pair.Role); ok {
		return s.evaluateAutomated(ctx, actor, pair, expr)
	}

	if !com.Roles.HasRoleName(pair.Role) {
		return false, fmt.Errorf("%w: role %q does not exist in community %q",
			community.ErrInconsistentRoleData, pair.Role, pair.Community)
	}
	return false, nil
}

// evaluateAutomated runs an automated role predicate against the actor's
// attributes. Evaluation errors are logged and treated as inconsistent role
// data rather than hard failures.
func (s *RoleService) evaluateAutomated(ctx context.Context, actor string, pair entity.RolePair, expr string) (bool, error) {
	if s.predicates == nil {
		return false, nil
	}

	attrs := map[string]any{}
	if s.directory != nil {
		var err error
		attrs, err = s.directory.Attributes(ctx, actor)
		if err != nil {
			return false, fmt.Errorf("loading attributes for actor %s: %w", actor, err)
		}
	}

	holds, err := s.predicates.EvaluateRole(ctx, expr, actor, attrs)
	if err != nil {
		s.logger.Warn("automated role predicate failed",
			"role", pair.String(),
			"actor", actor,
			"error", err,
		)
		return false, fmt.Errorf("%w: predicate for role %s: %v", community.ErrInconsistentRoleData, pair, err)
	}
	return holds, nil
}

// InLeadership reports whether the actor appears in a leadership record,
// either directly or through one of its role pairs.
func (s *RoleService) InLeadership(ctx context.Context, actor string, lead community.Leadership) (bool, error) {
	if lead.Actors.Contains(actor) {
		return true, nil
	}
	for _, pair := range lead.Roles.Slice() {
		has, err := s.HasRole(ctx, actor, pair)
		if err != nil {
			if errors.Is(err, community.ErrInconsistentRoleData) {
				s.logger.Warn("leadership role pair skipped", "role", pair.String(), "error", err)
				continue
			}
			return false, err
		}
		if has {
			return true, nil
		}
	}
	return false, nil
}

// IsOwner reports whether the actor holds foundational authority over the
// community.
func (s *RoleService) IsOwner(ctx context.Context, actor, communityID string) (bool, error) {
	com, err := s.communities.GetCommunity(ctx, communityID)
	if err != nil {
		return false, fmt.Errorf("loading community %s: %w", communityID, err)
	}
	return s.InLeadership(ctx, actor, com.Authority.Owners)
}

// IsGovernor reports whether the actor holds governing authority over the
// community.
func (s *RoleService) IsGovernor(ctx context.Context, actor, communityID string) (bool, error) {
	com, err := s.communities.GetCommunity(ctx, communityID)
	if err != nil {
		return false, fmt.Errorf("loading community %s: %w", communityID, err)
	}
	return s.InLeadership(ctx, actor, com.Authority.Governors)
}

// RolesFor returns the assigned roles the actor holds in a community.
func (s *RoleService) RolesFor(ctx context.Context, actor, communityID string) ([]string, error) {
	com, err := s.communities.GetCommunity(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("loading community %s: %w", communityID, err)
	}
	return com.Roles.AssignedRolesFor(actor), nil
}
