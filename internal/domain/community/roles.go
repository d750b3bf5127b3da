package community

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agora-works/agora/internal/domain/entity"
)

// ReservedMemberRole always exists on every community and cannot be
// removed.
const ReservedMemberRole = "members"

// Role set errors.
var (
	// ErrRoleExists is returned when adding a role name already in use.
	ErrRoleExists = errors.New("role already exists")
	// ErrRoleNotFound is returned when a role name does not exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrReservedRole is returned when removing the reserved members role.
	ErrReservedRole = errors.New("the members role is reserved and cannot be removed")
)

// RoleSet holds a community's roles: assigned roles with stored membership
// and automated roles defined by a predicate evaluated against the actor.
type RoleSet struct {
	Assigned  map[string]entity.ActorSet `json:"assigned"`
	Automated map[string]string          `json:"automated,omitempty"`
}

// NewRoleSet returns a role set containing the reserved members role with
// the given initial members.
func NewRoleSet(initialMembers ...string) RoleSet {
	return RoleSet{
		Assigned: map[string]entity.ActorSet{
			ReservedMemberRole: entity.NewActorSet(initialMembers...),
		},
	}
}

// Clone returns a deep copy of the role set.
func (rs RoleSet) Clone() RoleSet {
	cp := RoleSet{}
	if rs.Assigned != nil {
		cp.Assigned = make(map[string]entity.ActorSet, len(rs.Assigned))
		for name, set := range rs.Assigned {
			cp.Assigned[name] = set.Clone()
		}
	}
	if rs.Automated != nil {
		cp.Automated = make(map[string]string, len(rs.Automated))
		for name, expr := range rs.Automated {
			cp.Automated[name] = expr
		}
	}
	return cp
}

// AddRole creates an empty assigned role.
func (rs *RoleSet) AddRole(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("role name must not be empty")
	}
	if rs.Assigned == nil {
		rs.Assigned = make(map[string]entity.ActorSet)
	}
	if _, exists := rs.Assigned[name]; exists {
		return fmt.Errorf("%w: %q", ErrRoleExists, name)
	}
	if _, exists := rs.Automated[name]; exists {
		return fmt.Errorf("%w: %q", ErrRoleExists, name)
	}
	rs.Assigned[name] = entity.ActorSet{}
	return nil
}

// RemoveRole deletes a role. The reserved members role cannot be removed.
func (rs *RoleSet) RemoveRole(name string) error {
	if strings.EqualFold(name, ReservedMemberRole) {
		return ErrReservedRole
	}
	if _, exists := rs.Assigned[name]; exists {
		delete(rs.Assigned, name)
		return nil
	}
	if _, exists := rs.Automated[name]; exists {
		delete(rs.Automated, name)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrRoleNotFound, name)
}

// AddAutomatedRole creates an automated role defined by a predicate
// expression. The predicate must already be validated by the caller.
func (rs *RoleSet) AddAutomatedRole(name, expr string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("role name must not be empty")
	}
	if _, exists := rs.Assigned[name]; exists {
		return fmt.Errorf("%w: %q", ErrRoleExists, name)
	}
	if _, exists := rs.Automated[name]; exists {
		return fmt.Errorf("%w: %q", ErrRoleExists, name)
	}
	if rs.Automated == nil {
		rs.Automated = make(map[string]string)
	}
	rs.Automated[name] = expr
	return nil
}

// AddMembers adds actors to an assigned role. Additions are idempotent.
func (rs *RoleSet) AddMembers(role string, actors ...string) error {
	set, exists := rs.Assigned[role]
	if !exists {
		return fmt.Errorf("%w: %q", ErrRoleNotFound, role)
	}
	for _, actor := range actors {
		set.Add(actor)
	}
	rs.Assigned[role] = set
	return nil
}

// RemoveMembers removes actors from an assigned role. Removals are
// idempotent.
func (rs *RoleSet) RemoveMembers(role string, actors ...string) error {
	set, exists := rs.Assigned[role]
	if !exists {
		return fmt.Errorf("%w: %q", ErrRoleNotFound, role)
	}
	for _, actor := range actors {
		set.Remove(actor)
	}
	rs.Assigned[role] = set
	return nil
}

// HasAssigned reports whether the actor holds the assigned role.
func (rs RoleSet) HasAssigned(role, actor string) bool {
	set, exists := rs.Assigned[role]
	return exists && set.Contains(actor)
}

// AutomatedPredicate returns the predicate for an automated role.
func (rs RoleSet) AutomatedPredicate(role string) (string, bool) {
	expr, exists := rs.Automated[role]
	return expr, exists
}

// HasRoleName reports whether a role with this name exists, assigned or
// automated.
func (rs RoleSet) HasRoleName(role string) bool {
	if _, exists := rs.Assigned[role]; exists {
		return true
	}
	_, exists := rs.Automated[role]
	return exists
}

// RoleNames returns all role names, sorted, assigned before automated.
func (rs RoleSet) RoleNames() []string {
	names := make([]string, 0, len(rs.Assigned)+len(rs.Automated))
	for name := range rs.Assigned {
		names = append(names, name)
	}
	for name := range rs.Automated {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Members returns the membership of an assigned role.
func (rs RoleSet) Members(role string) (entity.ActorSet, error) {
	set, exists := rs.Assigned[role]
	if !exists {
		return entity.ActorSet{}, fmt.Errorf("%w: %q", ErrRoleNotFound, role)
	}
	return set, nil
}

// AssignedRolesFor returns the assigned roles held by the actor, sorted.
func (rs RoleSet) AssignedRolesFor(actor string) []string {
	var roles []string
	for name, set := range rs.Assigned {
		if set.Contains(actor) {
			roles = append(roles, name)
		}
	}
	sort.Strings(roles)
	return roles
}
