package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/entity"
)

// RoleResolver answers role-membership questions for the matcher. The
// (community, role) pair may reference any community, not just the one
// owning the records under evaluation.
type RoleResolver interface {
	// HasRole reports whether the actor holds the role. A reference to
	// missing role data returns community.ErrInconsistentRoleData.
	HasRole(ctx context.Context, actor string, pair entity.RolePair) (bool, error)
}

// ConstraintChecker re-checks a record's configuration against the concrete
// change being attempted. A nil checker skips the constraint step. The
// returned reason explains a disqualification.
type ConstraintChecker func(rec *Record) (ok bool, reason string, err error)

// Verdict is the combined outcome of matching a record set.
type Verdict int

const (
	// VerdictNone means no record matched the actor.
	VerdictNone Verdict = iota
	// VerdictGranted means at least one unconditioned record matched.
	VerdictGranted
	// VerdictPending means the only matching records carry conditions.
	VerdictPending
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case VerdictGranted:
		return "granted"
	case VerdictPending:
		return "pending"
	default:
		return "none"
	}
}

// Grant identifies one matching record and, when the match came through
// role membership, the role that carried it.
type Grant struct {
	Record *Record
	// Role is the matching role pair, nil when the match came through the
	// actor set, the anyone flag, or an inverse record.
	Role *entity.RolePair
}

// Result is the outcome of matching one actor against one target's records.
type Result struct {
	Verdict Verdict
	// Granted is the first unconditioned matching record. Set only when
	// Verdict is VerdictGranted.
	Granted *Grant
	// Pending lists matching records whose grants carry conditions, in
	// record order. Populated for VerdictPending and also alongside a
	// granted record for audit purposes.
	Pending []Grant
	// Log is the human-inspectable trail of why records matched or failed.
	Log []string
}

// Match evaluates the records scoped to a target against one actor and
// change type. Records combine with OR semantics: any one unconditioned
// match grants; if only conditioned records match the result is pending
// with the union of their conditions; otherwise there is no match.
func Match(ctx context.Context, actor, changeType string, records []*Record,
	roles RoleResolver, checkConfig ConstraintChecker) (Result, error) {

	var res Result
	for _, rec := range records {
		if !rec.MatchesChangeType(changeType) {
			continue
		}

		// Configuration constraints disqualify the record regardless of
		// the base match.
		if checkConfig != nil && len(rec.Configuration) > 0 {
			ok, reason, err := checkConfig(rec)
			if err != nil {
				return Result{}, fmt.Errorf("checking configuration of permission %s: %w", rec.ID, err)
			}
			if !ok {
				res.Log = append(res.Log, fmt.Sprintf("permission %s: configuration mismatch: %s", rec.ID, reason))
				continue
			}
		}

		base, matchedRole, err := baseMatch(ctx, actor, rec, roles, &res)
		if err != nil {
			return Result{}, err
		}

		matched := base
		if rec.Inverse {
			matched = !base
			// An inverse match is not carried by any particular role.
			matchedRole = nil
		}
		if !matched {
			res.Log = append(res.Log, fmt.Sprintf("permission %s: actor %s not matched", rec.ID, actor))
			continue
		}

		grant := Grant{Record: rec, Role: matchedRole}
		if rec.Condition != nil {
			res.Log = append(res.Log, fmt.Sprintf("permission %s: actor %s matched with condition %q attached",
				rec.ID, actor, rec.Condition.Type))
			res.Pending = append(res.Pending, grant)
			continue
		}

		res.Log = append(res.Log, fmt.Sprintf("permission %s: actor %s matched%s", rec.ID, actor, roleSuffix(matchedRole)))
		if res.Granted == nil {
			res.Granted = &grant
		}
	}

	switch {
	case res.Granted != nil:
		res.Verdict = VerdictGranted
	case len(res.Pending) > 0:
		res.Verdict = VerdictPending
	default:
		res.Verdict = VerdictNone
	}
	return res, nil
}

// baseMatch evaluates the positive half of the match: actor set, anyone
// flag, then role membership. Inconsistent role data is logged and treated
// as a non-match for that pair.
func baseMatch(ctx context.Context, actor string, rec *Record, roles RoleResolver, res *Result) (bool, *entity.RolePair, error) {
	if rec.Actors.Contains(actor) {
		return true, nil, nil
	}
	if rec.Anyone {
		return true, nil, nil
	}
	for _, pair := range rec.Roles.Slice() {
		has, err := roles.HasRole(ctx, actor, pair)
		if err != nil {
			if errors.Is(err, community.ErrInconsistentRoleData) {
				res.Log = append(res.Log, fmt.Sprintf("permission %s: role %s skipped: %v", rec.ID, pair, err))
				continue
			}
			return false, nil, fmt.Errorf("resolving role %s for permission %s: %w", pair, rec.ID, err)
		}
		if has {
			matched := pair
			return true, &matched, nil
		}
	}
	return false, nil, nil
}

func roleSuffix(pair *entity.RolePair) string {
	if pair == nil {
		return ""
	}
	return fmt.Sprintf(" via role %s", pair)
}
