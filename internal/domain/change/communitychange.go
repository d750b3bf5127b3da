package change

import (
	"context"
	"fmt"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Community change types. Altering owners or governors is foundational.
const (
	TypeRenameCommunity    = "community.rename"
	TypeAddGovernor        = "community.add_governor"
	TypeRemoveGovernor     = "community.remove_governor"
	TypeAddGovernorRole    = "community.add_governor_role"
	TypeRemoveGovernorRole = "community.remove_governor_role"
	TypeAddOwner           = "community.add_owner"
	TypeRemoveOwner        = "community.remove_owner"
	TypeAddOwnerRole       = "community.add_owner_role"
	TypeRemoveOwnerRole    = "community.remove_owner_role"
)

func registerCommunityChanges(r *Registry) {
	r.Register(Spec{Type: TypeRenameCommunity, New: func() Change { return &RenameCommunity{} }})
	r.Register(Spec{Type: TypeAddGovernor, Foundational: true, New: func() Change { return &AddGovernor{} }})
	r.Register(Spec{Type: TypeRemoveGovernor, Foundational: true, New: func() Change { return &RemoveGovernor{} }})
	r.Register(Spec{Type: TypeAddGovernorRole, Foundational: true, New: func() Change { return &AddGovernorRole{} }})
	r.Register(Spec{Type: TypeRemoveGovernorRole, Foundational: true, New: func() Change { return &RemoveGovernorRole{} }})
	r.Register(Spec{Type: TypeAddOwner, Foundational: true, New: func() Change { return &AddOwner{} }})
	r.Register(Spec{Type: TypeRemoveOwner, Foundational: true, New: func() Change { return &RemoveOwner{} }})
	r.Register(Spec{Type: TypeAddOwnerRole, Foundational: true, New: func() Change { return &AddOwnerRole{} }})
	r.Register(Spec{Type: TypeRemoveOwnerRole, Foundational: true, New: func() Change { return &RemoveOwnerRole{} }})
}

// communityChange holds the shared validation for changes that target a
// community.
type communityChange struct {
	noConfig
}

func (communityChange) validateTarget(changeType string, target entity.Permissionable) (*community.Community, error) {
	if err := requireKind(changeType, target, entity.KindCommunity); err != nil {
		return nil, err
	}
	return target.(*community.Community), nil
}

// RenameCommunity changes a community's display name.
type RenameCommunity struct {
	communityChange
	NewName string `json:"new_name" validate:"required,min=1,max=200"`
}

// Type implements Change.
func (c *RenameCommunity) Type() string { return TypeRenameCommunity }

// Validate implements Change.
func (c *RenameCommunity) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RenameCommunity) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	old := com.Name
	com.Name = c.NewName
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("renamed community %q to %q", old, c.NewName), nil
}

// AddGovernor grants an actor governing authority.
type AddGovernor struct {
	communityChange
	Actor string `json:"actor" validate:"required"`
}

// Type implements Change.
func (c *AddGovernor) Type() string { return TypeAddGovernor }

// Validate implements Change.
func (c *AddGovernor) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddGovernor) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	com.Authority.Governors.Actors.Add(c.Actor)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added governor %s", c.Actor), nil
}

// RemoveGovernor revokes an actor's governing authority.
type RemoveGovernor struct {
	communityChange
	Actor string `json:"actor" validate:"required"`
}

// Type implements Change.
func (c *RemoveGovernor) Type() string { return TypeRemoveGovernor }

// Validate implements Change.
func (c *RemoveGovernor) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RemoveGovernor) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	com.Authority.Governors.Actors.Remove(c.Actor)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed governor %s", c.Actor), nil
}

// AddGovernorRole grants governing authority to everyone holding a role,
// possibly a role in another community.
type AddGovernorRole struct {
	communityChange
	Role entity.RolePair `json:"role" validate:"required"`
}

// Type implements Change.
func (c *AddGovernorRole) Type() string { return TypeAddGovernorRole }

// Validate implements Change.
func (c *AddGovernorRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	if c.Role.Community == "" || c.Role.Role == "" {
		return NewValidationError(c.Type(), "role pair requires both community and role", nil)
	}
	return nil
}

// Implement implements Change.
func (c *AddGovernorRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	com.Authority.Governors.Roles.Add(c.Role)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added governor role %s", c.Role), nil
}

// RemoveGovernorRole revokes a role-based governing grant.
type RemoveGovernorRole struct {
	communityChange
	Role entity.RolePair `json:"role" validate:"required"`
}

// Type implements Change.
func (c *RemoveGovernorRole) Type() string { return TypeRemoveGovernorRole }

// Validate implements Change.
func (c *RemoveGovernorRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	_, err := c.validateTarget(c.Type(), target)
	return err
}

// Implement implements Change.
func (c *RemoveGovernorRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	com.Authority.Governors.Roles.Remove(c.Role)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed governor role %s", c.Role), nil
}

// AddOwner grants an actor foundational authority.
type AddOwner struct {
	communityChange
	Actor string `json:"actor" validate:"required"`
}

// Type implements Change.
func (c *AddOwner) Type() string { return TypeAddOwner }

// Validate implements Change.
func (c *AddOwner) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddOwner) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	com.Authority.Owners.Actors.Add(c.Actor)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added owner %s", c.Actor), nil
}

// RemoveOwner revokes an actor's foundational authority. A community must
// always retain at least one owner.
type RemoveOwner struct {
	communityChange
	Actor string `json:"actor" validate:"required"`
}

// Type implements Change.
func (c *RemoveOwner) Type() string { return TypeRemoveOwner }

// Validate implements Change.
func (c *RemoveOwner) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RemoveOwner) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if com.Authority.Owners.Actors.Len() == 1 && com.Authority.Owners.Actors.Contains(c.Actor) &&
		com.Authority.Owners.Roles.Len() == 0 {
		return "", fmt.Errorf("cannot remove the last owner of community %s", com.ID)
	}
	com.Authority.Owners.Actors.Remove(c.Actor)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed owner %s", c.Actor), nil
}

// AddOwnerRole grants foundational authority to everyone holding a role.
type AddOwnerRole struct {
	communityChange
	Role entity.RolePair `json:"role" validate:"required"`
}

// Type implements Change.
func (c *AddOwnerRole) Type() string { return TypeAddOwnerRole }

// Validate implements Change.
func (c *AddOwnerRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := c.validateTarget(c.Type(), target); err != nil {
		return err
	}
	if c.Role.Community == "" || c.Role.Role == "" {
		return NewValidationError(c.Type(), "role pair requires both community and role", nil)
	}
	return nil
}

// Implement implements Change.
func (c *AddOwnerRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	com.Authority.Owners.Roles.Add(c.Role)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added owner role %s", c.Role), nil
}

// RemoveOwnerRole revokes a role-based foundational grant.
type RemoveOwnerRole struct {
	communityChange
	Role entity.RolePair `json:"role" validate:"required"`
}

// Type implements Change.
func (c *RemoveOwnerRole) Type() string { return TypeRemoveOwnerRole }

// Validate implements Change.
func (c *RemoveOwnerRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	_, err := c.validateTarget(c.Type(), target)
	return err
}

// Implement implements Change.
func (c *RemoveOwnerRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if com.Authority.Owners.Actors.Len() == 0 && com.Authority.Owners.Roles.Len() == 1 &&
		com.Authority.Owners.Roles.Contains(c.Role) {
		return "", fmt.Errorf("cannot remove the last owner role of community %s", com.ID)
	}
	com.Authority.Owners.Roles.Remove(c.Role)
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed owner role %s", c.Role), nil
}
