package condition

import (
	"context"

	"github.com/agora-works/agora/internal/domain/entity"
)

// Leadership condition targets, used when a template is attached to a
// community's authority record rather than to a permission.
const (
	// TargetGoverning attaches the condition to governor decision-making.
	TargetGoverning = "gov"
	// TargetOwners attaches the condition to owner decision-making.
	TargetOwners = "own"
)

// Grant names who may act on one facet of a condition (approve, reject,
// vote, respond). Empty grants fall back to the governing and foundational
// authority of the owning community.
type Grant struct {
	Actors []string          `json:"actors,omitempty" yaml:"actors"`
	Roles  []entity.RolePair `json:"roles,omitempty" yaml:"roles"`
}

// IsZero reports whether the grant names nobody.
func (g *Grant) IsZero() bool {
	return g == nil || (len(g.Actors) == 0 && len(g.Roles) == 0)
}

// EligibilitySpec is the nested permission specification on a template,
// controlling who may act on instantiated conditions. Facets not relevant
// to the condition type are ignored.
type EligibilitySpec struct {
	Approve *Grant `json:"approve,omitempty" yaml:"approve"`
	Reject  *Grant `json:"reject,omitempty" yaml:"reject"`
	Vote    *Grant `json:"vote,omitempty" yaml:"vote"`
	Respond *Grant `json:"respond,omitempty" yaml:"respond"`
}

// IsZero reports whether no facet names anyone.
func (e EligibilitySpec) IsZero() bool {
	return e.Approve.IsZero() && e.Reject.IsZero() && e.Vote.IsZero() && e.Respond.IsZero()
}

// Action-sourced field replacements. A template field marked with one of
// these is filled from the triggering action at instantiation time instead
// of being fixed when the template is authored.
const (
	SourceActor           = "actor"
	SourceTarget          = "target"
	SourceChangeParameter = "change_parameter"
)

// ActionSourceRule describes how to fill one template field from the
// triggering action.
type ActionSourceRule struct {
	// Replacement is one of SourceActor, SourceTarget, SourceChangeParameter.
	Replacement string `json:"replacement" yaml:"replacement"`
	// Parameter names the change field to read when Replacement is
	// SourceChangeParameter.
	Parameter string `json:"parameter,omitempty" yaml:"parameter"`
}

// Template describes a condition to be instantiated when a matching
// permission grant fires. Data keys are condition-type-specific and are
// validated against the registry at authoring time.
type Template struct {
	Type Type           `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data"`
	// Eligibility controls who may act on instantiated conditions.
	Eligibility EligibilitySpec `json:"eligibility,omitempty" yaml:"eligibility"`
	// ActionSourced maps eligibility or data field names to rules filling
	// them from the triggering action.
	ActionSourced map[string]ActionSourceRule `json:"action_sourced,omitempty" yaml:"action_sourced"`
	// TargetType is set only for leadership conditions: TargetGoverning or
	// TargetOwners.
	TargetType string `json:"target_type,omitempty" yaml:"target_type"`
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Data != nil {
		cp.Data = make(map[string]any, len(t.Data))
		for k, v := range t.Data {
			cp.Data[k] = v
		}
	}
	if t.ActionSourced != nil {
		cp.ActionSourced = make(map[string]ActionSourceRule, len(t.ActionSourced))
		for k, v := range t.ActionSourced {
			cp.ActionSourced[k] = v
		}
	}
	cp.Eligibility = t.Eligibility.clone()
	return &cp
}

func (e EligibilitySpec) clone() EligibilitySpec {
	return EligibilitySpec{
		Approve: e.Approve.clone(),
		Reject:  e.Reject.clone(),
		Vote:    e.Vote.clone(),
		Respond: e.Respond.clone(),
	}
}

func (g *Grant) clone() *Grant {
	if g == nil {
		return nil
	}
	return &Grant{
		Actors: append([]string(nil), g.Actors...),
		Roles:  append([]entity.RolePair(nil), g.Roles...),
	}
}

// Store persists condition instances.
type Store interface {
	// GetInstance returns the instance by id, or ErrNotFound.
	GetInstance(ctx context.Context, id string) (Instance, error)
	// SaveInstance creates or updates an instance.
	SaveInstance(ctx context.Context, inst Instance) error
	// InstanceForSource returns the instance bound to the given source,
	// or ErrNotFound. At most one instance exists per source.
	InstanceForSource(ctx context.Context, src Source) (Instance, error)
	// InstancesForAction returns all instances spawned by the action.
	InstancesForAction(ctx context.Context, actionID string) ([]Instance, error)
}
