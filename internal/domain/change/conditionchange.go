package change

import (
	"context"
	"fmt"

	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Condition sub-action change types. Acting on a condition is itself an
// action targeting the condition instance, resolved through the same
// pipeline and gated by the eligibility permissions created with it.
const (
	TypeApproveCondition   = "condition.approve"
	TypeRejectCondition    = "condition.reject"
	TypeVoteOnCondition    = "condition.vote"
	TypeRespondToCondition = "condition.respond"
)

func registerConditionChanges(r *Registry) {
	r.Register(Spec{Type: TypeApproveCondition, New: func() Change { return &ApproveCondition{} }})
	r.Register(Spec{Type: TypeRejectCondition, New: func() Change { return &RejectCondition{} }})
	r.Register(Spec{Type: TypeVoteOnCondition, New: func() Change { return &VoteOnCondition{} }})
	r.Register(Spec{Type: TypeRespondToCondition, New: func() Change { return &RespondToCondition{} }})
}

// applyChoice runs one choice against the targeted condition instance and
// persists the new state.
func applyChoice(ctx context.Context, actor string, target entity.Permissionable, env Env, choice condition.Choice) (string, error) {
	inst, ok := target.(condition.Instance)
	if !ok {
		return "", fmt.Errorf("target %s is not a condition instance", target.Ref())
	}
	now := env.Now()
	if err := inst.Apply(actor, choice, now); err != nil {
		return "", err
	}
	if err := env.Conditions.SaveInstance(ctx, inst); err != nil {
		return "", err
	}
	return inst.Describe(now), nil
}

// conditionTargetOnly validates that the target is a condition instance.
func conditionTargetOnly(changeType string, target entity.Permissionable) error {
	return requireKind(changeType, target, entity.KindCondition)
}

// ApproveCondition records an approval on an approval condition.
type ApproveCondition struct {
	noConfig
}

// Type implements Change.
func (c *ApproveCondition) Type() string { return TypeApproveCondition }

// Validate implements Change.
func (c *ApproveCondition) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	return conditionTargetOnly(c.Type(), target)
}

// Implement implements Change.
func (c *ApproveCondition) Implement(ctx context.Context, actor string, target entity.Permissionable, env Env) (string, error) {
	return applyChoice(ctx, actor, target, env, condition.ChoiceApprove)
}

// RejectCondition records a rejection on an approval condition.
type RejectCondition struct {
	noConfig
}

// Type implements Change.
func (c *RejectCondition) Type() string { return TypeRejectCondition }

// Validate implements Change.
func (c *RejectCondition) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	return conditionTargetOnly(c.Type(), target)
}

// Implement implements Change.
func (c *RejectCondition) Implement(ctx context.Context, actor string, target entity.Permissionable, env Env) (string, error) {
	return applyChoice(ctx, actor, target, env, condition.ChoiceReject)
}

// VoteOnCondition casts one ballot on a vote condition.
type VoteOnCondition struct {
	noConfig
	Choice condition.Choice `json:"choice" validate:"required,oneof=yea nay abstain"`
}

// Type implements Change.
func (c *VoteOnCondition) Type() string { return TypeVoteOnCondition }

// Validate implements Change.
func (c *VoteOnCondition) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := conditionTargetOnly(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *VoteOnCondition) Implement(ctx context.Context, actor string, target entity.Permissionable, env Env) (string, error) {
	return applyChoice(ctx, actor, target, env, c.Choice)
}

// RespondToCondition records one response on a consensus condition.
type RespondToCondition struct {
	noConfig
	Choice condition.Choice `json:"choice" validate:"required,oneof=support oppose block abstain"`
}

// Type implements Change.
func (c *RespondToCondition) Type() string { return TypeRespondToCondition }

// Validate implements Change.
func (c *RespondToCondition) Validate(_ context.Context, _ string, target entity.Permissionable) error {
	if err := conditionTargetOnly(c.Type(), target); err != nil {
		return err
	}
	return validateStruct(c.Type(), c)
}

// Implement implements Change.
func (c *RespondToCondition) Implement(ctx context.Context, actor string, target entity.Permissionable, env Env) (string, error) {
	return applyChoice(ctx, actor, target, env, c.Choice)
}
