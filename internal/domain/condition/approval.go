package condition

import (
	"fmt"
	"time"
)

// Approval is a binary approve/reject decision. The first decisive choice
// by an eligible actor resolves it.
type Approval struct {
	Base

	// SelfApprovalAllowed permits the actor of the gated action to approve
	// it. Off by default.
	SelfApprovalAllowed bool `json:"self_approval_allowed"`

	Decided   bool      `json:"decided"`
	Outcome   bool      `json:"outcome"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at,omitzero"`
}

// Type implements Instance.
func (a *Approval) Type() Type { return TypeApproval }

// Apply records an approve or reject decision. The first decision wins;
// later ones fail with ErrAlreadyResolved. The gated actor may reject
// (withdraw) their own action but may not approve it unless self-approval
// is enabled.
func (a *Approval) Apply(actor string, choice Choice, now time.Time) error {
	if a.Decided {
		return ErrAlreadyResolved
	}
	switch choice {
	case ChoiceApprove:
		if actor == a.Actor && !a.SelfApprovalAllowed {
			return ErrSelfApproval
		}
		a.Outcome = true
	case ChoiceReject:
		a.Outcome = false
	default:
		return fmt.Errorf("%w: %q on approval condition", ErrInvalidChoice, choice)
	}
	a.Decided = true
	a.DecidedBy = actor
	a.DecidedAt = now
	return nil
}

// Resolved implements Instance.
func (a *Approval) Resolved(time.Time) bool { return a.Decided }

// Approved implements Instance.
func (a *Approval) Approved(time.Time) bool { return a.Decided && a.Outcome }

// Describe implements Instance.
func (a *Approval) Describe(time.Time) string {
	if !a.Decided {
		return "awaiting approval"
	}
	if a.Outcome {
		return fmt.Sprintf("approved by %s", a.DecidedBy)
	}
	return fmt.Sprintf("rejected by %s", a.DecidedBy)
}

// Clone implements Instance.
func (a *Approval) Clone() Instance {
	cp := *a
	return &cp
}
