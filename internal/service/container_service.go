package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Proposal is one member of a container: a change an actor wants applied to
// a target as part of a batch.
type Proposal struct {
	Actor  string
	Target entity.Ref
	Change change.Change
}

// ContainerService groups actions into batches. Members are resolved
// individually but committed according to the container's mode: partial
// apply commits every approved member, all-or-nothing commits only a fully
// approved batch. Either way a batch that saw a rejected member settles as
// rejected.
type ContainerService struct {
	containers container.Store
	actions    action.Store
	ledger     *Ledger
	graph      *EntityGraph
	env        change.Env
	metrics    *Metrics
	newID      func() string
	now        func() time.Time
	logger     *slog.Logger
}

// NewContainerService creates a ContainerService.
func NewContainerService(
	containers container.Store,
	actions action.Store,
	ledger *Ledger,
	graph *EntityGraph,
	env change.Env,
	metrics *Metrics,
	logger *slog.Logger,
) *ContainerService {
	return &ContainerService{
		containers: containers,
		actions:    actions,
		ledger:     ledger,
		graph:      graph,
		env:        env,
		metrics:    metrics,
		newID:      env.NewID,
		now:        env.Now,
		logger:     logger,
	}
}

// Create resolves a batch of proposals as one container. Members are
// evaluated without side effects first; the commit phase then applies them
// according to the mode. Duplicate proposals, detected by fingerprint, are
// dropped with a log entry rather than resolved twice. The trigger action
// id, when non-empty, records the action that caused the batch.
func (s *ContainerService) Create(ctx context.Context, actor string, mode container.Mode, triggerActionID string, proposals []Proposal) (*container.Container, error) {
	if len(proposals) == 0 {
		return nil, container.ErrEmpty
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown container mode %q", mode)
	}

	c := &container.Container{
		ID:              s.newID(),
		Actor:           actor,
		Mode:            mode,
		Status:          container.StatusWaiting,
		TriggerActionID: triggerActionID,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}

	seen := make(map[uint64]bool)
	for _, p := range proposals {
		fp := action.Fingerprint(p.Actor, p.Target, p.Change)
		if seen[fp] {
			s.logger.Warn("duplicate proposal dropped from container",
				"container_id", c.ID,
				"actor", p.Actor,
				"target", p.Target.String(),
				"change_type", p.Change.Type(),
			)
			continue
		}
		seen[fp] = true

		act, err := s.ledger.Propose(ctx, p.Actor, p.Target, p.Change)
		if err != nil && act == nil {
			return nil, fmt.Errorf("proposing %s on %s: %w", p.Change.Type(), p.Target, err)
		}
		act.ContainerID = c.ID
		act.UpdatedAt = s.now()
		if err := s.actions.SaveAction(ctx, act); err != nil {
			return nil, err
		}
		c.ActionIDs = append(c.ActionIDs, act.ID)
	}
	if len(c.ActionIDs) == 0 {
		return nil, container.ErrEmpty
	}

	if err := s.containers.SaveContainer(ctx, c); err != nil {
		return nil, err
	}
	return s.settle(ctx, c)
}

// Get returns a container by id.
func (s *ContainerService) Get(ctx context.Context, id string) (*container.Container, error) {
	return s.containers.GetContainer(ctx, id)
}

// Retry re-resolves the container's non-terminal members and settles the
// batch again. Called after a member's condition resolves.
func (s *ContainerService) Retry(ctx context.Context, id string) (*container.Container, error) {
	c, err := s.containers.GetContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return c, container.ErrClosed
	}

	members, err := s.actions.ActionsForContainer(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	for _, act := range members {
		if act.Status.Terminal() || act.Status == action.StatusSent {
			continue
		}
		if _, err := s.ledger.Reresolve(ctx, act.ID); err != nil {
			return nil, fmt.Errorf("re-resolving member %s: %w", act.ID, err)
		}
	}
	return s.settle(ctx, c)
}

// settle inspects member statuses and commits or rejects the batch per its
// mode. A batch with waiting members stays open, except that all-or-nothing
// batches reject immediately on the first rejected member.
func (s *ContainerService) settle(ctx context.Context, c *container.Container) (*container.Container, error) {
	members, err := s.actions.ActionsForContainer(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var waiting, rejected, ready int
	for _, act := range members {
		switch act.Status {
		case action.StatusWaiting:
			waiting++
		case action.StatusRejected:
			rejected++
		case action.StatusSent, action.StatusImplemented:
			ready++
		}
	}

	switch c.Mode {
	case container.ModeAllOrNothing:
		if rejected > 0 {
			return s.close(ctx, c, members, false,
				fmt.Sprintf("%d of %d members rejected, batch discarded", rejected, len(members)))
		}
		if waiting > 0 {
			return c, s.touch(ctx, c)
		}
		return s.close(ctx, c, members, true,
			fmt.Sprintf("all %d members approved and applied", len(members)))
	default:
		if waiting > 0 {
			return c, s.touch(ctx, c)
		}
		return s.close(ctx, c, members, true,
			fmt.Sprintf("%d of %d members applied, %d rejected", ready, len(members), rejected))
	}
}

// close settles the container: on commit, sent members are implemented; on
// discard, sent and waiting members are rejected so every member of a closed
// batch is terminal. Any rejected member settles the batch as rejected, even
// when partial apply kept the other members' effects.
func (s *ContainerService) close(ctx context.Context, c *container.Container, members []*action.Action, commit bool, summary string) (*container.Container, error) {
	var applied, rejected int
	for _, act := range members {
		switch {
		case act.Status == action.StatusImplemented:
			applied++
		case act.Status == action.StatusRejected:
			rejected++
		case !commit:
			if err := s.discardMember(ctx, act, summary); err != nil {
				return nil, err
			}
			rejected++
		case act.Status == action.StatusSent:
			if err := s.implementMember(ctx, act); err != nil {
				return nil, err
			}
			applied++
		}
	}

	c.Status = container.StatusRejected
	if commit && rejected == 0 && applied > 0 {
		c.Status = container.StatusImplemented
	}
	c.Summary = summary
	c.UpdatedAt = s.now()
	if err := s.containers.SaveContainer(ctx, c); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ContainersTotal.WithLabelValues(string(c.Status)).Inc()
	}
	s.logger.Info("container settled",
		"container_id", c.ID,
		"mode", string(c.Mode),
		"status", string(c.Status),
		"summary", summary,
	)
	return c, nil
}

// discardMember closes out an unapplied member of a discarded batch. A
// member still waiting stops gating on its conditions, so the open-conditions
// gauge drops with it.
func (s *ContainerService) discardMember(ctx context.Context, act *action.Action, summary string) error {
	if act.Status == action.StatusWaiting && s.metrics != nil {
		s.metrics.ConditionsOpen.Sub(float64(len(act.Resolution.ConditionIDs())))
	}
	act.Status = action.StatusRejected
	act.Resolution.Log = "batch discarded: " + summary
	act.UpdatedAt = s.now()
	return s.actions.SaveAction(ctx, act)
}

// implementMember applies one approved member's change.
func (s *ContainerService) implementMember(ctx context.Context, act *action.Action) error {
	ent, err := s.graph.Resolve(ctx, act.Target)
	if err != nil {
		return fmt.Errorf("resolving target of member %s: %w", act.ID, err)
	}
	summary, err := act.Change.Implement(ctx, act.Actor, ent, s.env)
	if err != nil {
		return fmt.Errorf("implementing member %s: %w", act.ID, err)
	}
	act.Status = action.StatusImplemented
	act.Summary = summary
	act.UpdatedAt = s.now()
	return s.actions.SaveAction(ctx, act)
}

func (s *ContainerService) touch(ctx context.Context, c *container.Container) error {
	c.UpdatedAt = s.now()
	return s.containers.SaveContainer(ctx, c)
}
