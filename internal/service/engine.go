package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Engine is the facade over the action pipeline. Inbound adapters talk to
// it exclusively; it owns the cascade from condition sub-actions back to
// the suspended actions they gate.
type Engine struct {
	ledger     *Ledger
	containers *ContainerService
	conditions condition.Store
	registry   *change.Registry
	logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(
	ledger *Ledger,
	containers *ContainerService,
	conditions condition.Store,
	registry *change.Registry,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:     ledger,
		containers: containers,
		conditions: conditions,
		registry:   registry,
		logger:     logger,
	}
}

// Submit proposes one change and resolves it end to end.
func (e *Engine) Submit(ctx context.Context, actor string, target entity.Ref, ch change.Change) (*action.Action, error) {
	return e.ledger.Submit(ctx, actor, target, ch)
}

// SubmitRaw decodes a change from its type tag and JSON fields, then
// submits it.
func (e *Engine) SubmitRaw(ctx context.Context, actor string, target entity.Ref, changeType string, fields []byte) (*action.Action, error) {
	ch, err := e.registry.Decode(changeType, fields)
	if err != nil {
		return nil, err
	}
	return e.Submit(ctx, actor, target, ch)
}

// DecodeChange decodes a change descriptor from its type tag and JSON
// fields.
func (e *Engine) DecodeChange(changeType string, fields []byte) (change.Change, error) {
	return e.registry.Decode(changeType, fields)
}

// GetAction returns an action by id.
func (e *Engine) GetAction(ctx context.Context, id string) (*action.Action, error) {
	return e.ledger.Get(ctx, id)
}

// ActionConditions returns the condition instances gating an action.
func (e *Engine) ActionConditions(ctx context.Context, actionID string) ([]condition.Instance, error) {
	return e.ledger.Conditions(ctx, actionID)
}

// GetCondition returns a condition instance by id.
func (e *Engine) GetCondition(ctx context.Context, id string) (condition.Instance, error) {
	return e.conditions.GetInstance(ctx, id)
}

// ActOnCondition submits a condition sub-action: the actor's choice becomes
// an ordinary action targeting the condition instance, gated by the
// instance's eligibility permissions. When the sub-action lands and the
// condition thereby resolves, the suspended source action is re-resolved,
// cascading into its container if it has one.
func (e *Engine) ActOnCondition(ctx context.Context, actor, conditionID string, ch change.Change) (*action.Action, error) {
	target := entity.NewRef(entity.KindCondition, conditionID)
	sub, err := e.ledger.Submit(ctx, actor, target, ch)
	if err != nil {
		return sub, err
	}
	if sub.Status != action.StatusImplemented {
		return sub, nil
	}

	if err := e.cascade(ctx, conditionID); err != nil {
		return sub, err
	}
	return sub, nil
}

// ActWithChoice builds the right condition sub-action for the instance's
// type from a bare choice and submits it. This is the convenience surface
// for callers that do not construct change descriptors themselves.
func (e *Engine) ActWithChoice(ctx context.Context, actor, conditionID string, choice condition.Choice) (*action.Action, error) {
	inst, err := e.conditions.GetInstance(ctx, conditionID)
	if err != nil {
		return nil, err
	}

	var ch change.Change
	switch inst.Type() {
	case condition.TypeApproval:
		switch choice {
		case condition.ChoiceApprove:
			ch = &change.ApproveCondition{}
		case condition.ChoiceReject:
			ch = &change.RejectCondition{}
		default:
			return nil, fmt.Errorf("%w: %q on approval condition", condition.ErrInvalidChoice, choice)
		}
	case condition.TypeVote:
		ch = &change.VoteOnCondition{Choice: choice}
	case condition.TypeConsensus:
		ch = &change.RespondToCondition{Choice: choice}
	default:
		return nil, fmt.Errorf("%w: %q", condition.ErrUnknownType, inst.Type())
	}
	return e.ActOnCondition(ctx, actor, conditionID, ch)
}

// cascade re-resolves the action gated by a condition once that condition
// has resolved.
func (e *Engine) cascade(ctx context.Context, conditionID string) error {
	inst, err := e.conditions.GetInstance(ctx, conditionID)
	if err != nil {
		return fmt.Errorf("loading condition %s: %w", conditionID, err)
	}
	src := inst.Source()

	gated, err := e.ledger.Reresolve(ctx, src.ActionID)
	if err != nil {
		if errors.Is(err, action.ErrTerminal) {
			return nil
		}
		return fmt.Errorf("re-resolving gated action %s: %w", src.ActionID, err)
	}

	if gated.ContainerID != "" {
		if _, err := e.containers.Retry(ctx, gated.ContainerID); err != nil && !errors.Is(err, container.ErrClosed) {
			return fmt.Errorf("retrying container %s: %w", gated.ContainerID, err)
		}
	}
	return nil
}

// CreateContainer batches proposals into a container and resolves them.
func (e *Engine) CreateContainer(ctx context.Context, actor string, mode container.Mode, triggerActionID string, proposals []Proposal) (*container.Container, error) {
	return e.containers.Create(ctx, actor, mode, triggerActionID, proposals)
}

// GetContainer returns a container by id.
func (e *Engine) GetContainer(ctx context.Context, id string) (*container.Container, error) {
	return e.containers.Get(ctx, id)
}

// RetryContainer re-resolves a container's open members and settles it.
func (e *Engine) RetryContainer(ctx context.Context, id string) (*container.Container, error) {
	return e.containers.Retry(ctx, id)
}

// ContainerActions returns a container's member actions.
func (e *Engine) ContainerActions(ctx context.Context, id string) ([]*action.Action, error) {
	c, err := e.containers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	members := make([]*action.Action, 0, len(c.ActionIDs))
	for _, actionID := range c.ActionIDs {
		act, err := e.ledger.Get(ctx, actionID)
		if err != nil {
			return nil, err
		}
		members = append(members, act)
	}
	return members, nil
}

// ChangeTypes lists the registered change catalogue.
func (e *Engine) ChangeTypes() []string {
	return e.registry.Types()
}
