// Package entity contains the shared domain kernel: polymorphic entity
// references, the Permissionable contract implemented by every governable
// record, and the typed value objects (actor sets, role pairs) that replace
// the ad hoc string blobs of earlier designs.
package entity

import (
	"fmt"
	"strings"
)

// Kind identifies the concrete type behind a Ref.
type Kind string

const (
	// KindResource is a governed resource (a named collection of items).
	KindResource Kind = "resource"
	// KindCommunity is a community (a collection of users with roles).
	KindCommunity Kind = "community"
	// KindPermission is a permission record. Permissions are themselves
	// permissionable, which is what makes metapermissions possible.
	KindPermission Kind = "permission"
	// KindCondition is a live condition instance gating a suspended action.
	KindCondition Kind = "condition"
)

// Ref is a polymorphic reference to a permissionable entity: a type tag plus
// an identifier. It is the target field of actions and permission records.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// NewRef builds a Ref from a kind and id.
func NewRef(kind Kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// String renders the reference as "kind:id".
func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseRef parses a "kind:id" string produced by String.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || kind == "" || id == "" {
		return Ref{}, fmt.Errorf("malformed entity ref %q", s)
	}
	return Ref{Kind: Kind(kind), ID: id}, nil
}

// Permissionable is implemented by every entity that actions can target and
// permissions can be scoped to. The two flags are per-target governance
// toggles consulted by the authority resolver alongside the change
// descriptor's own static markers.
type Permissionable interface {
	// Ref returns the polymorphic reference for this entity.
	Ref() Ref
	// OwnerCommunity returns the id of the community that owns this entity.
	OwnerCommunity() string
	// FoundationalOverride reports whether all changes to this entity
	// require foundational (owner) authority, not just the structurally
	// sensitive ones.
	FoundationalOverride() bool
	// GoverningEnabled reports whether governors may authorize changes to
	// this entity through the governing tier.
	GoverningEnabled() bool
}
