// Package permission contains permission records and the matching
// algorithm that decides whether a set of records authorizes an actor for
// a change.
package permission

import (
	"context"
	"errors"
	"time"

	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Permission errors.
var (
	// ErrNotFound is returned when a permission id does not exist.
	ErrNotFound = errors.New("permission not found")
)

// Record states who may perform one change type on one target. A record is
// itself a permissionable entity, so records may be scoped to records:
// metapermissions, to unbounded depth.
type Record struct {
	ID     string     `json:"id"`
	Target entity.Ref `json:"target"`
	// ChangeType is the change type tag this record covers.
	ChangeType string `json:"change_type"`

	// Actors are individually granted actor ids.
	Actors entity.ActorSet `json:"actors"`
	// Roles grant through (community, role) membership, possibly in a
	// community other than the owning one.
	Roles entity.RolePairList `json:"roles"`
	// Anyone grants the permission to every actor.
	Anyone bool `json:"anyone,omitempty"`
	// Inverse negates the base match: the record matches exactly the
	// actors it would otherwise not match.
	Inverse bool `json:"inverse,omitempty"`

	// Configuration holds change-type-specific constraints, checked by the
	// change descriptor against each concrete action.
	Configuration map[string]any `json:"configuration,omitempty"`
	// Condition, when set, gates grants through this record behind a
	// secondary decision.
	Condition *condition.Template `json:"condition,omitempty"`

	// Foundational places this record in the foundational tier: it grants
	// through owner authority instead of the specific tier.
	Foundational bool `json:"foundational,omitempty"`

	// Community is the owning community, inherited from the target.
	Community string    `json:"community"`
	CreatedAt time.Time `json:"created_at"`

	// SelfFoundational and SelfGoverning control how this record itself is
	// governed when it is the target of metapermissions.
	SelfFoundational bool `json:"self_foundational_override,omitempty"`
	SelfGoverning    bool `json:"self_governing_enabled"`
}

// Ref implements entity.Permissionable.
func (r *Record) Ref() entity.Ref {
	return entity.Ref{Kind: entity.KindPermission, ID: r.ID}
}

// OwnerCommunity implements entity.Permissionable.
func (r *Record) OwnerCommunity() string { return r.Community }

// FoundationalOverride implements entity.Permissionable.
func (r *Record) FoundationalOverride() bool { return r.SelfFoundational }

// GoverningEnabled implements entity.Permissionable.
func (r *Record) GoverningEnabled() bool { return r.SelfGoverning }

// Clone returns a deep copy safe for concurrent readers.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Actors = r.Actors.Clone()
	cp.Roles = r.Roles.Clone()
	if r.Configuration != nil {
		cp.Configuration = make(map[string]any, len(r.Configuration))
		for k, v := range r.Configuration {
			cp.Configuration[k] = v
		}
	}
	cp.Condition = r.Condition.Clone()
	return &cp
}

// MatchesChangeType reports whether the record covers the change type.
func (r *Record) MatchesChangeType(changeType string) bool {
	return r.ChangeType == changeType
}

// Store persists permission records.
type Store interface {
	// GetPermission returns the record by id, or ErrNotFound.
	GetPermission(ctx context.Context, id string) (*Record, error)
	// PermissionsForTarget returns all records scoped to the target, in
	// creation order.
	PermissionsForTarget(ctx context.Context, target entity.Ref) ([]*Record, error)
	// SavePermission creates or updates a record.
	SavePermission(ctx context.Context, r *Record) error
	// DeletePermission removes a record by id, or ErrNotFound.
	DeletePermission(ctx context.Context, id string) error
}
