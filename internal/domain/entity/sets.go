package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ActorSet is an ordered set of actor ids with defined serialization and
// equality. Add and Remove are idempotent.
type ActorSet struct {
	ids []string
}

// NewActorSet builds an ActorSet from the given ids, deduplicating them.
func NewActorSet(ids ...string) ActorSet {
	var s ActorSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Contains reports whether the actor is in the set.
func (s ActorSet) Contains(actor string) bool {
	i := sort.SearchStrings(s.ids, actor)
	return i < len(s.ids) && s.ids[i] == actor
}

// Add inserts the actor. Adding an existing actor is a no-op.
func (s *ActorSet) Add(actor string) {
	if actor == "" || s.Contains(actor) {
		return
	}
	i := sort.SearchStrings(s.ids, actor)
	s.ids = append(s.ids, "")
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = actor
}

// Remove deletes the actor. Removing an absent actor is a no-op.
func (s *ActorSet) Remove(actor string) {
	i := sort.SearchStrings(s.ids, actor)
	if i < len(s.ids) && s.ids[i] == actor {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
}

// Len returns the number of actors in the set.
func (s ActorSet) Len() int {
	return len(s.ids)
}

// Slice returns the actors in sorted order. The returned slice is a copy.
func (s ActorSet) Slice() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Clone returns an independent copy of the set.
func (s ActorSet) Clone() ActorSet {
	return ActorSet{ids: append([]string(nil), s.ids...)}
}

// Equal reports whether both sets contain the same actors.
func (s ActorSet) Equal(other ActorSet) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted JSON array of actor ids.
func (s ActorSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes a JSON array of actor ids, deduplicating.
func (s *ActorSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewActorSet(ids...)
	return nil
}

// RolePair names a role within a specific community. The community may
// differ from the community owning the record that lists the pair, which is
// what enables cross-community role delegation.
type RolePair struct {
	Community string `json:"community"`
	Role      string `json:"role"`
}

// String renders the pair as "community/role".
func (p RolePair) String() string {
	return p.Community + "/" + p.Role
}

// ParseRolePair parses a "community/role" string produced by String.
func ParseRolePair(s string) (RolePair, error) {
	community, role, ok := strings.Cut(s, "/")
	if !ok || community == "" || role == "" {
		return RolePair{}, fmt.Errorf("malformed role pair %q", s)
	}
	return RolePair{Community: community, Role: role}, nil
}

// RolePairList is an ordered set of (community, role) pairs.
type RolePairList struct {
	pairs []RolePair
}

// NewRolePairList builds a RolePairList from the given pairs, deduplicating.
func NewRolePairList(pairs ...RolePair) RolePairList {
	var l RolePairList
	for _, p := range pairs {
		l.Add(p)
	}
	return l
}

// Contains reports whether the pair is in the list.
func (l RolePairList) Contains(pair RolePair) bool {
	for _, p := range l.pairs {
		if p == pair {
			return true
		}
	}
	return false
}

// Add inserts the pair. Adding an existing pair is a no-op.
func (l *RolePairList) Add(pair RolePair) {
	if pair.Community == "" || pair.Role == "" || l.Contains(pair) {
		return
	}
	l.pairs = append(l.pairs, pair)
}

// Remove deletes the pair. Removing an absent pair is a no-op.
func (l *RolePairList) Remove(pair RolePair) {
	for i, p := range l.pairs {
		if p == pair {
			l.pairs = append(l.pairs[:i], l.pairs[i+1:]...)
			return
		}
	}
}

// Clone returns an independent copy of the list.
func (l RolePairList) Clone() RolePairList {
	return RolePairList{pairs: append([]RolePair(nil), l.pairs...)}
}

// Len returns the number of pairs in the list.
func (l RolePairList) Len() int {
	return len(l.pairs)
}

// Slice returns the pairs in insertion order. The returned slice is a copy.
func (l RolePairList) Slice() []RolePair {
	out := make([]RolePair, len(l.pairs))
	copy(out, l.pairs)
	return out
}

// MarshalJSON encodes the list as a JSON array of pairs.
func (l RolePairList) MarshalJSON() ([]byte, error) {
	if l.pairs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.pairs)
}

// UnmarshalJSON decodes a JSON array of pairs, deduplicating.
func (l *RolePairList) UnmarshalJSON(data []byte) error {
	var pairs []RolePair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	*l = NewRolePairList(pairs...)
	return nil
}
