package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// SourceState classifies what a stored condition instance says about the
// grant that spawned it.
type SourceState int

const (
	// SourceNone means no instance exists for the source yet.
	SourceNone SourceState = iota
	// SourceOpen means the instance exists and is unresolved.
	SourceOpen
	// SourceApproved means the instance resolved in favor of the action.
	SourceApproved
	// SourceRejected means the instance resolved against the action.
	SourceRejected
)

// ConditionService instantiates condition templates when a conditioned
// grant fires and reports the state of existing instances during
// re-resolution. Instantiation is idempotent per source: a second pass over
// the same (action, tier, permission) triple reuses the stored instance.
type ConditionService struct {
	store       condition.Store
	permissions permission.Store
	registry    *condition.Registry
	newID       func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewConditionService creates a ConditionService.
func NewConditionService(
	store condition.Store,
	permissions permission.Store,
	registry *condition.Registry,
	newID func() string,
	now func() time.Time,
	logger *slog.Logger,
) *ConditionService {
	return &ConditionService{
		store:       store,
		permissions: permissions,
		registry:    registry,
		newID:       newID,
		now:         now,
		logger:      logger,
	}
}

// StateForSource reports the state of the instance bound to the source.
func (s *ConditionService) StateForSource(ctx context.Context, src condition.Source) (SourceState, condition.Instance, error) {
	inst, err := s.store.InstanceForSource(ctx, src)
	if err != nil {
		if errors.Is(err, condition.ErrNotFound) {
			return SourceNone, nil, nil
		}
		return SourceNone, nil, fmt.Errorf("looking up condition for source %s: %w", src.Key(), err)
	}
	now := s.now()
	switch {
	case !inst.Resolved(now):
		return SourceOpen, inst, nil
	case inst.Approved(now):
		return SourceApproved, inst, nil
	default:
		return SourceRejected, inst, nil
	}
}

// Instantiate builds, persists, and wires a condition instance from a
// template. If an instance already exists for the source it is returned
// unchanged. The eligibility facets of the template become permission
// records scoped to the new instance, so acting on the condition flows
// through the ordinary pipeline.
func (s *ConditionService) Instantiate(
	ctx context.Context,
	src condition.Source,
	tmpl *condition.Template,
	act *action.Action,
	target entity.Permissionable,
) (condition.Instance, error) {
	if existing, err := s.store.InstanceForSource(ctx, src); err == nil {
		return existing, nil
	} else if !errors.Is(err, condition.ErrNotFound) {
		return nil, fmt.Errorf("checking existing condition for source %s: %w", src.Key(), err)
	}

	filled := s.applyActionSources(tmpl, act)

	base := condition.Base{
		InstanceID: s.newID(),
		Src:        src,
		Community:  target.OwnerCommunity(),
		Actor:      act.Actor,
		CreatedAt:  s.now(),
	}
	inst, err := s.registry.Build(filled.Type, base, filled.Data)
	if err != nil {
		return nil, fmt.Errorf("building %s condition for action %s: %w", filled.Type, act.ID, err)
	}
	setEligibleCount(inst, eligibleCount(filled.Eligibility))

	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("saving condition instance %s: %w", inst.ID(), err)
	}
	if err := s.createEligibilityPermissions(ctx, inst, filled); err != nil {
		return nil, err
	}

	s.logger.Info("condition instantiated",
		"condition_id", inst.ID(),
		"type", string(inst.Type()),
		"action_id", act.ID,
		"tier", src.Tier,
	)
	return inst, nil
}

// applyActionSources returns a copy of the template with its action-sourced
// fields filled from the triggering action. The stored template is never
// mutated.
func (s *ConditionService) applyActionSources(tmpl *condition.Template, act *action.Action) condition.Template {
	filled := *tmpl
	if len(tmpl.ActionSourced) == 0 {
		return filled
	}

	filled.Data = make(map[string]any, len(tmpl.Data))
	for k, v := range tmpl.Data {
		filled.Data[k] = v
	}

	for field, rule := range tmpl.ActionSourced {
		value, ok := s.sourceValue(rule, act)
		if !ok {
			s.logger.Warn("action-sourced field could not be filled",
				"field", field,
				"replacement", rule.Replacement,
				"action_id", act.ID,
			)
			continue
		}
		switch field {
		case "approve", "reject", "vote", "respond":
			filled.Eligibility = withFacetActor(filled.Eligibility, field, value)
		default:
			filled.Data[field] = value
		}
	}
	return filled
}

// sourceValue extracts one replacement value from the action.
func (s *ConditionService) sourceValue(rule condition.ActionSourceRule, act *action.Action) (string, bool) {
	switch rule.Replacement {
	case condition.SourceActor:
		return act.Actor, true
	case condition.SourceTarget:
		return act.Target.String(), true
	case condition.SourceChangeParameter:
		raw, err := json.Marshal(act.Change)
		if err != nil {
			return "", false
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", false
		}
		v, ok := fields[rule.Parameter].(string)
		return v, ok
	default:
		return "", false
	}
}

// withFacetActor returns the eligibility spec with one facet replaced by a
// single-actor grant.
func withFacetActor(spec condition.EligibilitySpec, facet, actor string) condition.EligibilitySpec {
	grant := &condition.Grant{Actors: []string{actor}}
	switch facet {
	case "approve":
		spec.Approve = grant
	case "reject":
		spec.Reject = grant
	case "vote":
		spec.Vote = grant
	case "respond":
		spec.Respond = grant
	}
	return spec
}

// eligibleCount returns the number of individually enumerable eligible
// actors, or zero when any facet grants through roles and the electorate is
// unbounded.
func eligibleCount(spec condition.EligibilitySpec) int {
	seen := make(map[string]struct{})
	for _, grant := range []*condition.Grant{spec.Approve, spec.Reject, spec.Vote, spec.Respond} {
		if grant == nil {
			continue
		}
		if len(grant.Roles) > 0 {
			return 0
		}
		for _, actor := range grant.Actors {
			seen[actor] = struct{}{}
		}
	}
	return len(seen)
}

// setEligibleCount stores the electorate size on variants that track one.
func setEligibleCount(inst condition.Instance, count int) {
	switch v := inst.(type) {
	case *condition.Vote:
		v.EligibleCount = count
	case *condition.Consensus:
		v.EligibleCount = count
	}
}

// facetChangeTypes maps eligibility facets to the condition sub-action
// change types they gate, per condition type.
func facetChangeTypes(t condition.Type) map[string]string {
	switch t {
	case condition.TypeApproval:
		return map[string]string{
			"approve": change.TypeApproveCondition,
			"reject":  change.TypeRejectCondition,
		}
	case condition.TypeVote:
		return map[string]string{"vote": change.TypeVoteOnCondition}
	case condition.TypeConsensus:
		return map[string]string{"respond": change.TypeRespondToCondition}
	default:
		return nil
	}
}

// createEligibilityPermissions turns the template's eligibility facets into
// permission records scoped to the instance. Facets naming nobody create no
// record; the instance then falls back to the governing and foundational
// authority of its community.
func (s *ConditionService) createEligibilityPermissions(ctx context.Context, inst condition.Instance, tmpl condition.Template) error {
	facets := facetChangeTypes(inst.Type())
	for facet, changeType := range facets {
		grant := facetGrant(tmpl.Eligibility, facet)
		if grant.IsZero() {
			continue
		}
		rec := &permission.Record{
			ID:            s.newID(),
			Target:        inst.Ref(),
			ChangeType:    changeType,
			Actors:        entity.NewActorSet(grant.Actors...),
			Roles:         entity.NewRolePairList(grant.Roles...),
			Community:     inst.OwnerCommunity(),
			CreatedAt:     s.now(),
			SelfGoverning: true,
		}
		if err := s.permissions.SavePermission(ctx, rec); err != nil {
			return fmt.Errorf("saving eligibility permission for condition %s: %w", inst.ID(), err)
		}
	}
	return nil
}

// facetGrant returns the grant for one facet.
func facetGrant(spec condition.EligibilitySpec, facet string) *condition.Grant {
	switch facet {
	case "approve":
		return spec.Approve
	case "reject":
		return spec.Reject
	case "vote":
		return spec.Vote
	case "respond":
		return spec.Respond
	default:
		return nil
	}
}
