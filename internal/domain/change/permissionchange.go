package change

import (
	"context"
	"fmt"

	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// Permission change types. Their targets may themselves be permission
// records, which is how metapermissions are administered.
const (
	TypeAddPermission         = "permission.add"
	TypeRemovePermission      = "permission.remove"
	TypeAddPermissionActor    = "permission.add_actor"
	TypeRemovePermissionActor = "permission.remove_actor"
	TypeAddPermissionRole     = "permission.add_role"
	TypeRemovePermissionRole  = "permission.remove_role"
)

func registerPermissionChanges(r *Registry) {
	r.Register(Spec{Type: TypeAddPermission, New: func() Change { return &AddPermission{} }})
	r.Register(Spec{Type: TypeRemovePermission, New: func() Change { return &RemovePermission{} }})
	r.Register(Spec{Type: TypeAddPermissionActor, New: func() Change { return &AddPermissionActor{} }})
	r.Register(Spec{Type: TypeRemovePermissionActor, New: func() Change { return &RemovePermissionActor{} }})
	r.Register(Spec{Type: TypeAddPermissionRole, New: func() Change { return &AddPermissionRole{} }})
	r.Register(Spec{Type: TypeRemovePermissionRole, New: func() Change { return &RemovePermissionRole{} }})
}

// AddPermission creates a permission record scoped to the action's target.
type AddPermission struct {
	noConfig
	// ChangeType is the change the new record will cover.
	ChangeType string `json:"change_type" validate:"required"`

	Actors  []string          `json:"actors,omitempty"`
	Roles   []entity.RolePair `json:"roles,omitempty"`
	Anyone  bool              `json:"anyone,omitempty"`
	Inverse bool              `json:"inverse,omitempty"`

	Configuration map[string]any      `json:"configuration,omitempty"`
	Condition     *condition.Template `json:"condition,omitempty"`
	Foundational  bool                `json:"foundational,omitempty"`
}

// Type implements Change.
func (c *AddPermission) Type() string { return TypeAddPermission }

// Validate implements Change. The covered change type and any condition
// template are checked against the static registries so that a permission
// can never be created that would fail at match or instantiation time.
func (c *AddPermission) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := validateStruct(c.Type(), c); err != nil {
		return err
	}
	if !DefaultRegistry().Known(c.ChangeType) {
		return NewValidationError(c.Type(),
			fmt.Sprintf("permission covers unknown change type %q", c.ChangeType), ErrUnknownType)
	}
	if len(c.Actors) == 0 && len(c.Roles) == 0 && !c.Anyone && !c.Inverse {
		return NewValidationError(c.Type(), "permission grants nobody: set actors, roles, anyone, or inverse", nil)
	}
	if c.Condition != nil {
		if err := condition.Default().ValidateTemplate(c.Condition); err != nil {
			return NewValidationError(c.Type(), "invalid condition template", err)
		}
	}
	if spec, err := DefaultRegistry().Get(c.ChangeType); err == nil && len(c.Configuration) > 0 {
		allowed := make(map[string]bool)
		for _, field := range spec.New().ConfigurableFields() {
			allowed[field] = true
		}
		for key := range c.Configuration {
			if !allowed[key] {
				return NewValidationError(c.Type(),
					fmt.Sprintf("configuration key %q is not configurable on %s", key, c.ChangeType), nil)
			}
		}
	}
	return nil
}

// Implement implements Change.
func (c *AddPermission) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	rec := &permission.Record{
		ID:            env.NewID(),
		Target:        target.Ref(),
		ChangeType:    c.ChangeType,
		Actors:        entity.NewActorSet(c.Actors...),
		Roles:         entity.NewRolePairList(c.Roles...),
		Anyone:        c.Anyone,
		Inverse:       c.Inverse,
		Configuration: c.Configuration,
		Condition:     c.Condition,
		Foundational:  c.Foundational,
		Community:     target.OwnerCommunity(),
		CreatedAt:     env.Now(),
		SelfGoverning: true,
	}
	if err := env.Permissions.SavePermission(ctx, rec); err != nil {
		return "", err
	}
	return fmt.Sprintf("added permission %s for %s on %s", rec.ID, c.ChangeType, target.Ref()), nil
}

// permissionTarget narrows a target to a permission record.
func permissionTarget(changeType string, target entity.Permissionable) (*permission.Record, error) {
	if err := requireKind(changeType, target, entity.KindPermission); err != nil {
		return nil, err
	}
	return target.(*permission.Record), nil
}

// RemovePermission deletes the targeted permission record.
type RemovePermission struct {
	noConfig
}

// Type implements Change.
func (c *RemovePermission) Type() string { return TypeRemovePermission }

// Validate implements Change.
func (c *RemovePermission) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	_, err := permissionTarget(c.Type(), target)
	return err
}

// Implement implements Change.
func (c *RemovePermission) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	rec := target.(*permission.Record)
	if err := env.Permissions.DeletePermission(ctx, rec.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed permission %s", rec.ID), nil
}

// AddPermissionActor grants an additional actor through an existing record.
type AddPermissionActor struct {
	noConfig
	Actor string `json:"actor" validate:"required"`
}

// Type implements Change.
func (c *AddPermissionActor) Type() string { return TypeAddPermissionActor }

// Validate implements Change.
func (c *AddPermissionActor) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := permissionTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddPermissionActor) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	rec := target.(*permission.Record)
	rec.Actors.Add(c.Actor)
	if err := env.Permissions.SavePermission(ctx, rec); err != nil {
		return "", err
	}
	return fmt.Sprintf("added actor %s to permission %s", c.Actor, rec.ID), nil
}

// RemovePermissionActor revokes an actor from an existing record.
type RemovePermissionActor struct {
	noConfig
	Actor string `json:"actor" validate:"required"`
}

// Type implements Change.
func (c *RemovePermissionActor) Type() string { return TypeRemovePermissionActor }

// Validate implements Change.
func (c *RemovePermissionActor) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := permissionTarget(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RemovePermissionActor) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	rec := target.(*permission.Record)
	rec.Actors.Remove(c.Actor)
	if err := env.Permissions.SavePermission(ctx, rec); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed actor %s from permission %s", c.Actor, rec.ID), nil
}

// AddPermissionRole grants a role pair through an existing record.
type AddPermissionRole struct {
	noConfig
	Role entity.RolePair `json:"role"`
}

// Type implements Change.
func (c *AddPermissionRole) Type() string { return TypeAddPermissionRole }

// Validate implements Change.
func (c *AddPermissionRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if _, err := permissionTarget(c.Type(), target); err != nil {
		return err
	}
	if c.Role.Community == "" || c.Role.Role == "" {
		return NewValidationError(c.Type(), "role pair requires both community and role", nil)
	}
	return nil
}

// Implement implements Change.
func (c *AddPermissionRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	rec := target.(*permission.Record)
	rec.Roles.Add(c.Role)
	if err := env.Permissions.SavePermission(ctx, rec); err != nil {
		return "", err
	}
	return fmt.Sprintf("added role %s to permission %s", c.Role, rec.ID), nil
}

// RemovePermissionRole revokes a role pair from an existing record.
type RemovePermissionRole struct {
	noConfig
	Role entity.RolePair `json:"role"`
}

// Type implements Change.
func (c *RemovePermissionRole) Type() string { return TypeRemovePermissionRole }

// Validate implements Change.
func (c *RemovePermissionRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	_, err := permissionTarget(c.Type(), target)
	return err
}

// Implement implements Change.
func (c *RemovePermissionRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	rec := target.(*permission.Record)
	rec.Roles.Remove(c.Role)
	if err := env.Permissions.SavePermission(ctx, rec); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed role %s from permission %s", c.Role, rec.ID), nil
}
