package change

import (
	"context"
	"fmt"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// Resource change types.
const (
	TypeRenameResource          = "resource.rename"
	TypeAddItem                 = "resource.add_item"
	TypeRemoveItem              = "resource.remove_item"
	TypeSetFoundationalOverride = "entity.set_foundational_override"
)

func registerResourceChanges(r *Registry) {
	r.Register(Spec{Type: TypeRenameResource, New: func() Change { return &RenameResource{} }})
	r.Register(Spec{Type: TypeAddItem, New: func() Change { return &AddItem{} }})
	r.Register(Spec{Type: TypeRemoveItem, New: func() Change { return &RemoveItem{} }})
	r.Register(Spec{Type: TypeSetFoundationalOverride, Foundational: true,
		New: func() Change { return &SetFoundationalOverride{} }})
}

// noConfig is embedded by changes without configurable fields.
type noConfig struct{}

// ConfigurableFields implements Change.
func (noConfig) ConfigurableFields() []string { return nil }

// CheckConfiguration implements Change.
func (noConfig) CheckConfiguration(string, entity.Permissionable, map[string]any) (bool, string) {
	return true, ""
}

// RenameResource changes a resource's name.
type RenameResource struct {
	noConfig
	NewName string `json:"new_name" validate:"required,min=1,max=200"`
}

// Type implements Change.
func (c *RenameResource) Type() string { return TypeRenameResource }

// Validate implements Change.
func (c *RenameResource) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindResource); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RenameResource) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	res := target.(*entity.Resource)
	old := res.Name
	res.Name = c.NewName
	if err := env.Resources.SaveResource(ctx, res); err != nil {
		return "", err
	}
	return fmt.Sprintf("renamed resource %q to %q", old, c.NewName), nil
}

// AddItem appends an item to a resource. A permission may restrict it with
// original_creator_only, limiting the grant to the resource's creator.
type AddItem struct {
	ItemName string `json:"item_name" validate:"required,min=1,max=200"`
}

// Type implements Change.
func (c *AddItem) Type() string { return TypeAddItem }

// Validate implements Change.
func (c *AddItem) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindResource); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *AddItem) Implement(ctx context.Context, actor string, target entity.Permissionable, env Env) (string, error) {
	res := target.(*entity.Resource)
	item := entity.Item{ID: env.NewID(), Name: c.ItemName, Creator: actor}
	if err := res.AddItem(item); err != nil {
		return "", err
	}
	if err := env.Resources.SaveResource(ctx, res); err != nil {
		return "", err
	}
	return fmt.Sprintf("added item %q", c.ItemName), nil
}

// ConfigurableFields implements Change.
func (c *AddItem) ConfigurableFields() []string { return []string{"original_creator_only"} }

// CheckConfiguration implements Change.
func (c *AddItem) CheckConfiguration(actor string, target entity.Permissionable, config map[string]any) (bool, string) {
	return checkCreatorOnly(actor, target, config)
}

// RemoveItem deletes an item from a resource.
type RemoveItem struct {
	ItemID string `json:"item_id" validate:"required"`
}

// Type implements Change.
func (c *RemoveItem) Type() string { return TypeRemoveItem }

// Validate implements Change.
func (c *RemoveItem) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := requireKind(c.Type(), target, entity.KindResource); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RemoveItem) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	res := target.(*entity.Resource)
	if err := res.RemoveItem(c.ItemID); err != nil {
		return "", err
	}
	if err := env.Resources.SaveResource(ctx, res); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed item %s", c.ItemID), nil
}

// ConfigurableFields implements Change.
func (c *RemoveItem) ConfigurableFields() []string { return []string{"original_creator_only"} }

// CheckConfiguration implements Change.
func (c *RemoveItem) CheckConfiguration(actor string, target entity.Permissionable, config map[string]any) (bool, string) {
	return checkCreatorOnly(actor, target, config)
}

// checkCreatorOnly enforces the original_creator_only constraint: the
// acting actor must be the creator of the targeted resource.
func checkCreatorOnly(actor string, target entity.Permissionable, config map[string]any) (bool, string) {
	if !configBool(config, "original_creator_only") {
		return true, ""
	}
	res, ok := target.(*entity.Resource)
	if !ok {
		return false, "original_creator_only requires a resource target"
	}
	if res.Creator != actor {
		return false, fmt.Sprintf("permission restricted to the resource creator %q", res.Creator)
	}
	return true, ""
}

// configBool reads a boolean configuration value, accepting the string
// forms seed files may carry.
func configBool(config map[string]any, key string) bool {
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True"
	default:
		return false
	}
}

// SetFoundationalOverride toggles the per-target flag that routes every
// change to this entity through the foundational tier. Toggling it is
// itself always a foundational change.
type SetFoundationalOverride struct {
	noConfig
	Enabled bool `json:"enabled"`
}

// Type implements Change.
func (c *SetFoundationalOverride) Type() string { return TypeSetFoundationalOverride }

// Validate implements Change.
func (c *SetFoundationalOverride) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	switch target.(type) {
	case *entity.Resource, *community.Community, *permission.Record:
		return nil
	default:
		return NewValidationError(c.Type(),
			fmt.Sprintf("foundational override cannot be toggled on %s targets", target.Ref().Kind), nil)
	}
}

// Implement implements Change.
func (c *SetFoundationalOverride) Implement(ctx context.Context, _ string, target entity.Permissionable, env Env) (string, error) {
	switch t := target.(type) {
	case *entity.Resource:
		t.Foundational = c.Enabled
		if err := env.Resources.SaveResource(ctx, t); err != nil {
			return "", err
		}
	case *community.Community:
		t.Foundational = c.Enabled
		if err := env.Communities.SaveCommunity(ctx, t); err != nil {
			return "", err
		}
	case *permission.Record:
		t.SelfFoundational = c.Enabled
		if err := env.Permissions.SavePermission(ctx, t); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("foundational override cannot be toggled on %s targets", target.Ref().Kind)
	}
	return fmt.Sprintf("foundational override set to %t on %s", c.Enabled, target.Ref()), nil
}
