package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// tracerName identifies resolver spans.
const tracerName = "agora/resolver"

// Resolver runs the three-tier authority pipeline over one action. The
// foundational tier is mandatory when applicable: it alone decides and a
// non-match there rejects the action outright. Otherwise the governing and
// specific tiers are independent alternatives combined with OR semantics.
type Resolver struct {
	communities community.Store
	permissions permission.Store
	roles       *RoleService
	conditions  *ConditionService
	registry    *change.Registry
	metrics     *Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewResolver creates a Resolver.
func NewResolver(
	communities community.Store,
	permissions permission.Store,
	roles *RoleService,
	conditions *ConditionService,
	registry *change.Registry,
	metrics *Metrics,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		communities: communities,
		permissions: permissions,
		roles:       roles,
		conditions:  conditions,
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Resolve evaluates the action's authority and returns the status it should
// move to along with the full per-tier audit trail. The caller applies the
// change; Resolve never mutates the target. Condition instances are created
// as a side effect of waiting verdicts and reused on later passes.
func (r *Resolver) Resolve(ctx context.Context, act *action.Action, target entity.Permissionable) (action.Status, action.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.resolve",
		trace.WithAttributes(
			attribute.String("action.id", act.ID),
			attribute.String("action.change_type", act.Change.Type()),
			attribute.String("action.target", act.Target.String()),
		))
	defer span.End()

	res := act.Resolution
	res.Passes++
	res.Foundational = action.TierResult{Verdict: action.VerdictSkipped}
	res.Governing = action.TierResult{Verdict: action.VerdictSkipped}
	res.Specific = action.TierResult{Verdict: action.VerdictSkipped}
	res.ApprovedThrough = ""

	checker := r.constraintChecker(act, target)

	if r.foundationalApplicable(act.Change, target) {
		tier, err := r.resolveFoundational(ctx, act, target, checker)
		if err != nil {
			return "", res, err
		}
		res.Foundational = tier
		status := r.settle(&res, action.TierFoundational, tier)
		res.Log = fmt.Sprintf("foundational authority required: %s", tier.Verdict)
		span.SetAttributes(attribute.String("resolution.status", string(status)))
		r.observeTier(action.TierFoundational, tier.Verdict)
		return status, res, nil
	}

	if target.GoverningEnabled() {
		tier, err := r.resolveGoverning(ctx, act, target)
		if err != nil {
			return "", res, err
		}
		res.Governing = tier
		r.observeTier(action.TierGoverning, tier.Verdict)
		if tier.Verdict == action.VerdictApproved {
			status := r.settle(&res, action.TierGoverning, tier)
			res.Log = "approved through governing authority"
			span.SetAttributes(attribute.String("resolution.status", string(status)))
			return status, res, nil
		}
	}

	tier, err := r.resolveSpecific(ctx, act, target, checker)
	if err != nil {
		return "", res, err
	}
	res.Specific = tier
	r.observeTier(action.TierSpecific, tier.Verdict)

	status := r.combine(&res)
	span.SetAttributes(attribute.String("resolution.status", string(status)))
	return status, res, nil
}

// foundationalApplicable reports whether the action must be decided by the
// foundational tier: either the change type is statically foundational or
// the target's override flag is set.
func (r *Resolver) foundationalApplicable(ch change.Change, target entity.Permissionable) bool {
	return r.registry.Foundational(ch.Type()) || target.FoundationalOverride()
}

// constraintChecker adapts the change's configuration check to the matcher.
func (r *Resolver) constraintChecker(act *action.Action, target entity.Permissionable) permission.ConstraintChecker {
	return func(rec *permission.Record) (bool, string, error) {
		ok, reason := act.Change.CheckConfiguration(act.Actor, target, rec.Configuration)
		return ok, reason, nil
	}
}

// settle records the decided tier on the resolution and maps a tier verdict
// to an action status.
func (r *Resolver) settle(res *action.Resolution, tier action.Tier, result action.TierResult) action.Status {
	switch result.Verdict {
	case action.VerdictApproved:
		res.ApprovedThrough = tier
		return action.StatusImplemented
	case action.VerdictWaiting:
		return action.StatusWaiting
	default:
		return action.StatusRejected
	}
}

// combine folds the governing and specific tier results into a final
// status. Either tier may still approve through a pending condition, so the
// action waits while any path remains open.
func (r *Resolver) combine(res *action.Resolution) action.Status {
	if res.Specific.Verdict == action.VerdictApproved {
		res.ApprovedThrough = action.TierSpecific
		res.Log = "approved through specific permission"
		return action.StatusImplemented
	}
	if res.Governing.Verdict == action.VerdictApproved {
		res.ApprovedThrough = action.TierGoverning
		res.Log = "approved through governing authority"
		return action.StatusImplemented
	}
	if res.Governing.Verdict == action.VerdictWaiting || res.Specific.Verdict == action.VerdictWaiting {
		res.Log = "waiting on conditions"
		return action.StatusWaiting
	}
	res.Log = "no authority path matched"
	return action.StatusRejected
}

// resolveFoundational checks owner authority plus foundational-tier
// permission records.
func (r *Resolver) resolveFoundational(ctx context.Context, act *action.Action, target entity.Permissionable, checker permission.ConstraintChecker) (action.TierResult, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.foundational")
	defer span.End()

	com, err := r.communities.GetCommunity(ctx, target.OwnerCommunity())
	if err != nil {
		return action.TierResult{}, fmt.Errorf("loading owning community %s: %w", target.OwnerCommunity(), err)
	}

	isOwner, err := r.roles.InLeadership(ctx, act.Actor, com.Authority.Owners)
	if err != nil {
		return action.TierResult{}, err
	}
	if isOwner {
		return r.leadershipResult(ctx, act, target, com.Authority.Owners.Condition,
			string(action.TierFoundational), condition.TargetOwners, "actor holds owner authority")
	}

	tier, err := r.matchTierRecords(ctx, act, target, checker, string(action.TierFoundational), true)
	if err != nil {
		return action.TierResult{}, err
	}
	if tier.Verdict == action.VerdictNoMatch {
		tier.Verdict = action.VerdictRejected
		tier.Log = "foundational authority required and actor holds none"
	}
	return tier, nil
}

// resolveGoverning checks governor authority over the owning community.
func (r *Resolver) resolveGoverning(ctx context.Context, act *action.Action, target entity.Permissionable) (action.TierResult, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.governing")
	defer span.End()

	com, err := r.communities.GetCommunity(ctx, target.OwnerCommunity())
	if err != nil {
		return action.TierResult{}, fmt.Errorf("loading owning community %s: %w", target.OwnerCommunity(), err)
	}
	if !com.Authority.HasGovernors() {
		return action.TierResult{Verdict: action.VerdictNoMatch, Log: "community has no governors"}, nil
	}

	isGovernor, err := r.roles.InLeadership(ctx, act.Actor, com.Authority.Governors)
	if err != nil {
		return action.TierResult{}, err
	}
	if !isGovernor {
		return action.TierResult{Verdict: action.VerdictNoMatch, Log: "actor holds no governing authority"}, nil
	}
	return r.leadershipResult(ctx, act, target, com.Authority.Governors.Condition,
		string(action.TierGoverning), condition.TargetGoverning, "actor holds governing authority")
}

// leadershipResult turns an owner or governor match into a tier result,
// instantiating the leadership condition when one is configured.
func (r *Resolver) leadershipResult(
	ctx context.Context,
	act *action.Action,
	target entity.Permissionable,
	tmpl *condition.Template,
	tier, targetType, log string,
) (action.TierResult, error) {
	if tmpl == nil {
		return action.TierResult{Verdict: action.VerdictApproved, Log: log}, nil
	}

	src := condition.Source{ActionID: act.ID, Tier: tier}
	state, inst, err := r.conditions.StateForSource(ctx, src)
	if err != nil {
		return action.TierResult{}, err
	}
	switch state {
	case SourceApproved:
		return action.TierResult{
			Verdict: action.VerdictApproved,
			Log:     log + "; condition approved",
		}, nil
	case SourceRejected:
		return action.TierResult{
			Verdict:      action.VerdictRejected,
			ConditionIDs: []string{inst.ID()},
			Log:          log + "; condition rejected",
		}, nil
	case SourceOpen:
		return action.TierResult{
			Verdict:      action.VerdictWaiting,
			ConditionIDs: []string{inst.ID()},
			Log:          log + "; condition open",
		}, nil
	}

	// Attach the configured leadership target type before instantiation.
	scoped := *tmpl
	scoped.TargetType = targetType
	inst, err = r.conditions.Instantiate(ctx, src, &scoped, act, target)
	if err != nil {
		return action.TierResult{}, err
	}
	return action.TierResult{
		Verdict:      action.VerdictWaiting,
		ConditionIDs: []string{inst.ID()},
		Log:          log + "; condition instantiated",
	}, nil
}

// resolveSpecific matches the target's non-foundational permission records.
func (r *Resolver) resolveSpecific(ctx context.Context, act *action.Action, target entity.Permissionable, checker permission.ConstraintChecker) (action.TierResult, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.specific")
	defer span.End()

	return r.matchTierRecords(ctx, act, target, checker, string(action.TierSpecific), false)
}

// matchTierRecords runs the permission matcher over one tier's slice of the
// target's records and resolves pending grants through their condition
// instances.
func (r *Resolver) matchTierRecords(
	ctx context.Context,
	act *action.Action,
	target entity.Permissionable,
	checker permission.ConstraintChecker,
	tier string,
	foundational bool,
) (action.TierResult, error) {
	all, err := r.permissions.PermissionsForTarget(ctx, target.Ref())
	if err != nil {
		return action.TierResult{}, fmt.Errorf("loading permissions for %s: %w", target.Ref(), err)
	}
	records := make([]*permission.Record, 0, len(all))
	for _, rec := range all {
		if rec.Foundational == foundational {
			records = append(records, rec)
		}
	}

	match, err := permission.Match(ctx, act.Actor, act.Change.Type(), records, r.roles, checker)
	if err != nil {
		return action.TierResult{}, err
	}

	result := action.TierResult{Log: joinLog(match.Log)}
	switch match.Verdict {
	case permission.VerdictGranted:
		result.Verdict = action.VerdictApproved
		result.PermissionID = match.Granted.Record.ID
		if match.Granted.Role != nil {
			result.Role = match.Granted.Role.String()
		}
		return result, nil
	case permission.VerdictNone:
		result.Verdict = action.VerdictNoMatch
		return result, nil
	}

	// Only conditioned grants matched. Each pending grant either reuses its
	// stored instance or spawns one; an approved instance upgrades the
	// grant, a rejected one kills it.
	open := false
	for _, grant := range match.Pending {
		src := condition.Source{ActionID: act.ID, Tier: tier, PermissionID: grant.Record.ID}
		state, inst, err := r.conditions.StateForSource(ctx, src)
		if err != nil {
			return action.TierResult{}, err
		}
		switch state {
		case SourceApproved:
			result.Verdict = action.VerdictApproved
			result.PermissionID = grant.Record.ID
			if grant.Role != nil {
				result.Role = grant.Role.String()
			}
			return result, nil
		case SourceRejected:
			continue
		case SourceOpen:
			open = true
			result.ConditionIDs = append(result.ConditionIDs, inst.ID())
		case SourceNone:
			inst, err := r.conditions.Instantiate(ctx, src, grant.Record.Condition, act, target)
			if err != nil {
				return action.TierResult{}, err
			}
			open = true
			result.ConditionIDs = append(result.ConditionIDs, inst.ID())
		}
	}

	if open {
		result.Verdict = action.VerdictWaiting
	} else {
		// Every conditioned path resolved against the actor.
		result.Verdict = action.VerdictNoMatch
		if foundational {
			result.Verdict = action.VerdictRejected
		}
	}
	return result, nil
}

// observeTier records one tier verdict on the metrics registry.
func (r *Resolver) observeTier(tier action.Tier, verdict action.TierVerdict) {
	if r.metrics != nil {
		r.metrics.TierVerdicts.WithLabelValues(string(tier), string(verdict)).Inc()
	}
}

// joinLog folds the matcher's log lines into one audit string.
func joinLog(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "; "
		}
		out += line
	}
	return out
}
