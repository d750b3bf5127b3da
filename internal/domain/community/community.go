// Package community contains communities, their role sets, and their
// authority records (owners and governors).
package community

import (
	"context"
	"errors"
	"time"

	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Community errors.
var (
	// ErrNotFound is returned when a community id does not exist.
	ErrNotFound = errors.New("community not found")
	// ErrInconsistentRoleData marks role references that cannot be
	// resolved, such as a role pair naming a nonexistent community. The
	// resolver records it and treats the reference as a non-match rather
	// than failing the whole evaluation.
	ErrInconsistentRoleData = errors.New("inconsistent role data")
)

// Community is a collection of users that governs entities it owns.
// Communities own themselves: changing a community is itself an action
// resolved against the community's own authority records.
type Community struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`

	Roles     RoleSet         `json:"roles"`
	Authority AuthorityRecord `json:"authority"`

	// Foundational is the per-target foundational-override flag.
	Foundational bool `json:"foundational_override"`
	// Governing enables the governing tier for changes to this community.
	Governing bool `json:"governing_enabled"`
}

// New creates a community with the default governance records: the creator
// is the sole owner and governor and the only member.
func New(id, name, creator string, now time.Time) *Community {
	return &Community{
		ID:        id,
		Name:      name,
		Creator:   creator,
		CreatedAt: now,
		Roles:     NewRoleSet(creator),
		Authority: AuthorityRecord{
			Owners:    Leadership{Actors: entity.NewActorSet(creator)},
			Governors: Leadership{Actors: entity.NewActorSet(creator)},
		},
		Governing: true,
	}
}

// Ref implements entity.Permissionable.
func (c *Community) Ref() entity.Ref {
	return entity.Ref{Kind: entity.KindCommunity, ID: c.ID}
}

// OwnerCommunity implements entity.Permissionable. Communities own
// themselves.
func (c *Community) OwnerCommunity() string { return c.ID }

// FoundationalOverride implements entity.Permissionable.
func (c *Community) FoundationalOverride() bool { return c.Foundational }

// GoverningEnabled implements entity.Permissionable.
func (c *Community) GoverningEnabled() bool { return c.Governing }

// Clone returns a deep copy safe for concurrent readers.
func (c *Community) Clone() *Community {
	cp := *c
	cp.Roles = c.Roles.Clone()
	cp.Authority = AuthorityRecord{
		Owners:    c.Authority.Owners.clone(),
		Governors: c.Authority.Governors.clone(),
	}
	return &cp
}

// Leadership names the holders of one authority level: individually listed
// actors plus role pairs, which may reference roles in other communities.
type Leadership struct {
	Actors entity.ActorSet     `json:"actors"`
	Roles  entity.RolePairList `json:"roles"`
	// Condition optionally gates decisions made through this authority
	// level behind a secondary decision.
	Condition *condition.Template `json:"condition,omitempty"`
}

func (l Leadership) clone() Leadership {
	return Leadership{
		Actors:    l.Actors.Clone(),
		Roles:     l.Roles.Clone(),
		Condition: l.Condition.Clone(),
	}
}

// IsEmpty reports whether the leadership names nobody.
func (l Leadership) IsEmpty() bool {
	return l.Actors.Len() == 0 && l.Roles.Len() == 0
}

// AuthorityRecord holds a community's two authority levels. Owners carry
// foundational authority; governors carry the default operating authority.
type AuthorityRecord struct {
	Owners    Leadership `json:"owners"`
	Governors Leadership `json:"governors"`
}

// HasGovernors reports whether any governors are configured.
func (a AuthorityRecord) HasGovernors() bool {
	return !a.Governors.IsEmpty()
}

// Store persists communities.
type Store interface {
	// GetCommunity returns the community by id, or ErrNotFound.
	GetCommunity(ctx context.Context, id string) (*Community, error)
	// SaveCommunity creates or updates a community.
	SaveCommunity(ctx context.Context, c *Community) error
}

// PredicateEvaluator evaluates an automated-role predicate against an
// actor's attributes. Implemented by the CEL adapter.
type PredicateEvaluator interface {
	// EvaluateRole returns whether the predicate holds for the actor.
	EvaluateRole(ctx context.Context, expr string, actor string, attrs map[string]any) (bool, error)
}

// ActorDirectory supplies actor attributes for automated-role predicates.
type ActorDirectory interface {
	// Attributes returns the attribute map for an actor. Unknown actors
	// return an empty map, not an error.
	Attributes(ctx context.Context, actor string) (map[string]any, error)
}
