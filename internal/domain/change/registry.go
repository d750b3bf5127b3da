package change

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Spec describes one change type in the static registry.
type Spec struct {
	// Type is the stable string key, e.g. "resource.rename".
	Type string
	// Foundational marks changes that always require owner authority:
	// altering owners or governors, or toggling foundational override.
	Foundational bool
	// New returns a zero-value descriptor ready for JSON decoding.
	New func() Change
}

// Registry is the static catalogue of change types, populated at startup
// and looked up by string key. There is no reflection-based scanning.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a change type. Registering a duplicate type panics, as it
// indicates a startup wiring bug.
func (r *Registry) Register(spec Spec) {
	if _, exists := r.specs[spec.Type]; exists {
		panic(fmt.Sprintf("change type %q registered twice", spec.Type))
	}
	r.specs[spec.Type] = spec
}

// Get returns the spec for a change type, or ErrUnknownType.
func (r *Registry) Get(changeType string) (Spec, error) {
	spec, ok := r.specs[changeType]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownType, changeType)
	}
	return spec, nil
}

// Known reports whether the change type is registered.
func (r *Registry) Known(changeType string) bool {
	_, ok := r.specs[changeType]
	return ok
}

// Foundational reports whether the change type statically requires owner
// authority. Unknown types return false; callers check Known first.
func (r *Registry) Foundational(changeType string) bool {
	return r.specs[changeType].Foundational
}

// Decode reconstructs a change descriptor from its type tag and JSON
// fields.
func (r *Registry) Decode(changeType string, fields []byte) (Change, error) {
	spec, err := r.Get(changeType)
	if err != nil {
		return nil, err
	}
	c := spec.New()
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, c); err != nil {
			return nil, NewValidationError(changeType, "malformed change fields", err)
		}
	}
	return c, nil
}

// Types returns all registered change types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.specs))
	for t := range r.specs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the built-in catalogue: resource, community,
// role, permission, and condition sub-action changes.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		registerResourceChanges(r)
		registerCommunityChanges(r)
		registerRoleChanges(r)
		registerPermissionChanges(r)
		registerConditionChanges(r)
		defaultRegistry = r
	})
	return defaultRegistry
}
