// Package condition contains the condition state machines that gate
// suspended actions: approval, vote, and consensus. A condition instance is
// itself a permissionable entity, so acting on it (approving, voting,
// responding) flows through the same action pipeline as any other change.
package condition

import (
	"errors"
	"time"

	"github.com/agora-works/agora/internal/domain/entity"
)

// Type identifies a condition variant in the static registry.
type Type string

const (
	// TypeApproval is a binary approve/reject decision by eligible actors.
	TypeApproval Type = "approval"
	// TypeVote is a yea/nay/abstain tally with majority or deadline policy.
	TypeVote Type = "vote"
	// TypeConsensus is a response map requiring broad agreement.
	TypeConsensus Type = "consensus"
)

// Choice is a single actor's input to a condition.
type Choice string

// Choices accepted by the condition variants.
const (
	ChoiceApprove Choice = "approve"
	ChoiceReject  Choice = "reject"
	ChoiceYea     Choice = "yea"
	ChoiceNay     Choice = "nay"
	ChoiceAbstain Choice = "abstain"
	ChoiceSupport Choice = "support"
	ChoiceOppose  Choice = "oppose"
	ChoiceBlock   Choice = "block"
)

// Condition errors.
var (
	// ErrNotFound is returned when a condition instance id does not exist.
	ErrNotFound = errors.New("condition not found")
	// ErrUnknownType is returned for a condition type missing from the
	// registry. This is a configuration bug, not a policy outcome.
	ErrUnknownType = errors.New("unknown condition type")
	// ErrAlreadyResolved is returned when acting on a resolved condition.
	ErrAlreadyResolved = errors.New("condition already resolved")
	// ErrSelfApproval is returned when the actor of the gated action tries
	// to approve it and self-approval is not allowed.
	ErrSelfApproval = errors.New("actor may not approve their own action")
	// ErrInvalidChoice is returned for a choice the condition type does not
	// accept.
	ErrInvalidChoice = errors.New("invalid choice for condition type")
)

// Source binds a condition instance to the exact (action, tier, permission)
// triple that spawned it. PermissionID is empty for leadership conditions
// attached to a community's owners or governors.
type Source struct {
	ActionID     string `json:"action_id"`
	Tier         string `json:"tier"`
	PermissionID string `json:"permission_id,omitempty"`
}

// Key returns a stable string form usable as a lookup key.
func (s Source) Key() string {
	return s.ActionID + "|" + s.Tier + "|" + s.PermissionID
}

// Instance is the contract shared by all condition variants. Deadline-based
// resolution is evaluated lazily against the supplied time, never by a
// background timer.
type Instance interface {
	entity.Permissionable

	// ID returns the instance identifier.
	ID() string
	// Type returns the condition type tag.
	Type() Type
	// Source returns the (action, tier, permission) binding.
	Source() Source
	// GatedActor returns the actor of the suspended action.
	GatedActor() string
	// CreatedTime returns when the condition was instantiated.
	CreatedTime() time.Time
	// Apply records one actor's choice. Duplicate input handling is
	// variant-specific: votes ignore repeats, consensus responses update.
	Apply(actor string, choice Choice, now time.Time) error
	// Resolved reports whether the condition has reached a decision.
	Resolved(now time.Time) bool
	// Approved reports whether the resolved decision permits the action.
	// Only meaningful once Resolved returns true.
	Approved(now time.Time) bool
	// Describe returns a short human-inspectable summary of current state.
	Describe(now time.Time) string
	// Clone returns a deep copy safe for concurrent readers.
	Clone() Instance
}

// Base carries the fields shared by every condition variant and implements
// the Permissionable side of the Instance contract.
type Base struct {
	InstanceID string    `json:"id"`
	Src        Source    `json:"source"`
	Community  string    `json:"community"`
	Actor      string    `json:"gated_actor"`
	CreatedAt  time.Time `json:"created_at"`
}

// ID implements Instance.
func (b *Base) ID() string { return b.InstanceID }

// Source implements Instance.
func (b *Base) Source() Source { return b.Src }

// GatedActor implements Instance.
func (b *Base) GatedActor() string { return b.Actor }

// CreatedTime implements Instance.
func (b *Base) CreatedTime() time.Time { return b.CreatedAt }

// Ref implements entity.Permissionable.
func (b *Base) Ref() entity.Ref {
	return entity.Ref{Kind: entity.KindCondition, ID: b.InstanceID}
}

// OwnerCommunity implements entity.Permissionable.
func (b *Base) OwnerCommunity() string { return b.Community }

// FoundationalOverride implements entity.Permissionable. Conditions never
// require owner authority for their own sub-actions.
func (b *Base) FoundationalOverride() bool { return false }

// GoverningEnabled implements entity.Permissionable. Governors may always
// act on a condition when no explicit eligibility narrows it.
func (b *Base) GoverningEnabled() bool { return true }
