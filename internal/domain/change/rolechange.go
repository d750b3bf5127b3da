package change

import (
	"context"
	"fmt"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Role change types.
const (
	TypeAddRole              = "role.add"
	TypeAddAutomatedRole     = "role.add_automated"
	TypeRemoveRole           = "role.remove"
	TypeAddPeopleToRole      = "role.add_people"
	TypeRemovePeopleFromRole = "role.remove_people"
)

func registerRoleChanges(r *Registry) {
	r.Register(Spec{Type: TypeAddRole, New: func() Change { return &AddRole{} }})
	r.Register(Spec{Type: TypeAddAutomatedRole, New: func() Change { return &AddAutomatedRole{} }})
	r.Register(Spec{Type: TypeRemoveRole, New: func() Change { return &RemoveRole{} }})
	r.Register(Spec{Type: TypeAddPeopleToRole, New: func() Change { return &AddPeopleToRole{} }})
	r.Register(Spec{Type: TypeRemovePeopleFromRole, New: func() Change { return &RemovePeopleFromRole{} }})
}

// AddRole creates an empty assigned role on a community.
type AddRole struct {
	noConfig
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// Type implements Change.
func (c *AddRole) Type() string { return TypeAddRole }

// Validate implements Change.
func (c *AddRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindCommunity); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if err := com.Roles.AddRole(c.Name); err != nil {
		return "", err
	}
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added role %q", c.Name), nil
}

// AddAutomatedRole creates a role whose membership is computed by a
// predicate evaluated against actor attributes instead of stored.
type AddAutomatedRole struct {
	noConfig
	Name      string `json:"name" validate:"required,min=1,max=100"`
	Predicate string `json:"predicate" validate:"required,max=1024"`
}

// Type implements Change.
func (c *AddAutomatedRole) Type() string { return TypeAddAutomatedRole }

// Validate implements Change.
func (c *AddAutomatedRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindCommunity); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddAutomatedRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if err := com.Roles.AddAutomatedRole(c.Name, c.Predicate); err != nil {
		return "", err
	}
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added automated role %q", c.Name), nil
}

// RemoveRole deletes a role. The reserved members role cannot be removed;
// that failure surfaces from the role set itself.
type RemoveRole struct {
	noConfig
	Name string `json:"name" validate:"required"`
}

// Type implements Change.
func (c *RemoveRole) Type() string { return TypeRemoveRole }

// Validate implements Change.
func (c *RemoveRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindCommunity); err != nil {
		return err
	}
	if err := validateStruct(c.Type(), c); err != nil {
		return err
	}
	if c.Name == community.ReservedMemberRole {
		return NewValidationError(c.Type(), "the members role is reserved", community.ErrReservedRole)
	}
	return nil
}

// Implement implements Change.
func (c *RemoveRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if err := com.Roles.RemoveRole(c.Name); err != nil {
		return "", err
	}
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed role %q", c.Name), nil
}

// AddPeopleToRole adds actors to an assigned role. Permissions for this
// change may be configured with role_name to restrict which role the grant
// covers.
type AddPeopleToRole struct {
	Role   string   `json:"role" validate:"required"`
	Actors []string `json:"actors" validate:"required,min=1,dive,required"`
}

// Type implements Change.
func (c *AddPeopleToRole) Type() string { return TypeAddPeopleToRole }

// Validate implements Change.
func (c *AddPeopleToRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindCommunity); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddPeopleToRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if err := com.Roles.AddMembers(c.Role, c.Actors...); err != nil {
		return "", err
	}
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("added %d actor(s) to role %q", len(c.Actors), c.Role), nil
}

// ConfigurableFields implements Change.
func (c *AddPeopleToRole) ConfigurableFields() []string { return []string{"role_name"} }

// CheckConfiguration implements Change.
func (c *AddPeopleToRole) CheckConfiguration(_ string, _ entity.Permissionable, config map[string]any) (bool, string) {
	return checkRoleName(c.Role, config)
}

// RemovePeopleFromRole removes actors from an assigned role.
type RemovePeopleFromRole struct {
	Role   string   `json:"role" validate:"required"`
	Actors []string `json:"actors" validate:"required,min=1,dive,required"`
}

// Type implements Change.
func (c *RemovePeopleFromRole) Type() string { return TypeRemovePeopleFromRole }

// Validate implements Change.
func (c *RemovePeopleFromRole) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindCommunity); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RemovePeopleFromRole) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	com := target.(*community.Community)
	if err := com.Roles.RemoveMembers(c.Role, c.Actors...); err != nil {
		return "", err
	}
	if err := env.Communities.SaveCommunity(ctx, com); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %d actor(s) from role %q", len(c.Actors), c.Role), nil
}

// ConfigurableFields implements Change.
func (c *RemovePeopleFromRole) ConfigurableFields() []string { return []string{"role_name"} }

// CheckConfiguration implements Change.
func (c *RemovePeopleFromRole) CheckConfiguration(_ string, _ entity.Permissionable, config map[string]any) (bool, string) {
	return checkRoleName(c.Role, config)
}

// checkRoleName enforces the role_name constraint: the change may only
// touch the configured role.
func checkRoleName(role string, config map[string]any) (bool, string) {
	want, ok := config["role_name"].(string)
	if !ok || want == "" {
		return true, ""
	}
	if want != role {
		return false, fmt.Sprintf("permission restricted to role %q, not %q", want, role)
	}
	return true, ""
}
