package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agora-works/agora/internal/ctxkey"
	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Ledger owns the action lifecycle: every proposed change becomes an
// action, is resolved against the three authority tiers, and is recorded
// whatever the outcome. Terminal actions are never mutated again.
type Ledger struct {
	actions  action.Store
	graph    *EntityGraph
	resolver *Resolver
	env      change.Env
	metrics  *Metrics
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(
	actions action.Store,
	graph *EntityGraph,
	resolver *Resolver,
	env change.Env,
	metrics *Metrics,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		actions:  actions,
		graph:    graph,
		resolver: resolver,
		env:      env,
		metrics:  metrics,
		newID:    env.NewID,
		now:      env.Now,
		logger:   logger,
	}
}

// Submit records and resolves one proposed change. The returned action
// carries the outcome: implemented, waiting, or rejected. Validation
// failures reject the action before authority resolution runs and are also
// returned as an error so callers can surface them.
//
// A trusted context bypasses resolution entirely; it exists for seeding and
// internal bootstrap, where the caller is the system itself.
func (l *Ledger) Submit(ctx context.Context, actor string, target entity.Ref, ch change.Change) (*action.Action, error) {
	return l.submit(ctx, actor, target, ch, true)
}

// Propose records and resolves a change without applying it. Approved
// proposals land in StatusSent; container members use this so the batch can
// commit them together.
func (l *Ledger) Propose(ctx context.Context, actor string, target entity.Ref, ch change.Change) (*action.Action, error) {
	return l.submit(ctx, actor, target, ch, false)
}

func (l *Ledger) submit(ctx context.Context, actor string, target entity.Ref, ch change.Change, apply bool) (*action.Action, error) {
	ent, err := l.graph.Resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("resolving target %s: %w", target, err)
	}

	act := action.New(l.newID(), actor, target, ch, l.now())

	if err := ch.Validate(ctx, actor, ent); err != nil {
		act.Status = action.StatusRejected
		act.Resolution.Log = fmt.Sprintf("validation failed: %v", err)
		if saveErr := l.actions.SaveAction(ctx, act); saveErr != nil {
			return nil, saveErr
		}
		l.observeStatus(act.Status)
		return act, err
	}

	if ctxkey.IsTrusted(ctx) {
		return act, l.applyTrusted(ctx, act, ent)
	}

	if err := l.resolve(ctx, act, ent, apply); err != nil {
		return nil, err
	}
	return act, nil
}

// applyTrusted implements the change without authority resolution.
func (l *Ledger) applyTrusted(ctx context.Context, act *action.Action, ent entity.Permissionable) error {
	summary, err := act.Change.Implement(ctx, act.Actor, ent, l.env)
	if err != nil {
		return fmt.Errorf("implementing trusted action %s: %w", act.ID, err)
	}
	act.Status = action.StatusImplemented
	act.Summary = summary
	act.Resolution.Log = "applied on trusted context without resolution"
	act.UpdatedAt = l.now()
	if err := l.actions.SaveAction(ctx, act); err != nil {
		return err
	}
	l.observeStatus(act.Status)
	return nil
}

// resolve runs one resolution pass and settles the action accordingly.
func (l *Ledger) resolve(ctx context.Context, act *action.Action, ent entity.Permissionable, apply bool) error {
	start := l.now()
	prevOpen := 0
	if act.Status == action.StatusWaiting {
		prevOpen = len(act.Resolution.ConditionIDs())
	}
	status, resolution, err := l.resolver.Resolve(ctx, act, ent)
	if err != nil {
		return fmt.Errorf("resolving action %s: %w", act.ID, err)
	}
	if l.metrics != nil {
		l.metrics.ResolveDuration.Observe(l.now().Sub(start).Seconds())
	}

	act.Resolution = resolution
	act.UpdatedAt = l.now()

	switch status {
	case action.StatusImplemented:
		if !apply {
			act.Status = action.StatusSent
			break
		}
		summary, err := act.Change.Implement(ctx, act.Actor, ent, l.env)
		if err != nil {
			return fmt.Errorf("implementing action %s: %w", act.ID, err)
		}
		act.Status = action.StatusImplemented
		act.Summary = summary
	default:
		act.Status = status
	}

	if err := l.actions.SaveAction(ctx, act); err != nil {
		return err
	}

	// Conditions gate only non-terminal actions; adjust the gauge by the
	// delta so repeated resolution passes do not double count.
	open := 0
	if act.Status == action.StatusWaiting {
		open = len(act.Resolution.ConditionIDs())
	}
	if l.metrics != nil && open != prevOpen {
		l.metrics.ConditionsOpen.Add(float64(open - prevOpen))
	}

	l.observeStatus(act.Status)
	l.logger.Info("action resolved",
		"action_id", act.ID,
		"actor", act.Actor,
		"change_type", act.Change.Type(),
		"target", act.Target.String(),
		"status", string(act.Status),
		"approved_through", string(act.Resolution.ApprovedThrough),
	)
	return nil
}

// Get returns an action by id.
func (l *Ledger) Get(ctx context.Context, id string) (*action.Action, error) {
	return l.actions.GetAction(ctx, id)
}

// Reresolve re-runs the pipeline over a suspended action, typically after
// one of its conditions resolved. Grants whose conditions approved become
// unconditional; grants whose conditions rejected are dead. Terminal
// actions return ErrTerminal.
func (l *Ledger) Reresolve(ctx context.Context, actionID string) (*action.Action, error) {
	act, err := l.actions.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if act.Status.Terminal() {
		return act, fmt.Errorf("%w: %s is %s", action.ErrTerminal, act.ID, act.Status)
	}

	ent, err := l.graph.Resolve(ctx, act.Target)
	if err != nil {
		return nil, fmt.Errorf("resolving target %s: %w", act.Target, err)
	}

	// Container members stay uncommitted until the batch settles.
	apply := act.ContainerID == ""
	if err := l.resolve(ctx, act, ent, apply); err != nil {
		return nil, err
	}
	return act, nil
}

// Conditions returns the condition instances gating an action.
func (l *Ledger) Conditions(ctx context.Context, actionID string) ([]condition.Instance, error) {
	return l.env.Conditions.InstancesForAction(ctx, actionID)
}

func (l *Ledger) observeStatus(status action.Status) {
	if l.metrics != nil {
		l.metrics.ActionsTotal.WithLabelValues(string(status)).Inc()
	}
}
