package condition

import (
	"encoding/json"
	"fmt"
	"time"
)

// Defaults applied when template data omits the corresponding key.
const (
	// DefaultVotingPeriod is the voting period for vote conditions.
	DefaultVotingPeriod = 7 * 24 * time.Hour
	// DefaultMinimumDuration is the minimum discussion period for loose
	// consensus conditions.
	DefaultMinimumDuration = 48 * time.Hour
)

// Spec describes one condition type in the registry: how to build a fresh
// instance from template data and how to decode a persisted one.
type Spec struct {
	// Type is the stable string key for this condition variant.
	Type Type
	// Build constructs a new instance from validated template data.
	Build func(base Base, data map[string]any) (Instance, error)
	// Decode reconstructs a persisted instance from its JSON state.
	Decode func(raw []byte) (Instance, error)
}

// Registry is the static catalogue of condition types, populated at startup
// and looked up by string key. There is no reflection-based scanning.
type Registry struct {
	specs map[Type]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[Type]Spec)}
}

// Register adds a condition type. Registering a duplicate type panics, as
// it indicates a startup wiring bug.
func (r *Registry) Register(spec Spec) {
	if _, exists := r.specs[spec.Type]; exists {
		panic(fmt.Sprintf("condition type %q registered twice", spec.Type))
	}
	r.specs[spec.Type] = spec
}

// Get returns the spec for a type, or ErrUnknownType.
func (r *Registry) Get(t Type) (Spec, error) {
	spec, ok := r.specs[t]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return spec, nil
}

// Build instantiates a condition of the given type from template data.
func (r *Registry) Build(t Type, base Base, data map[string]any) (Instance, error) {
	spec, err := r.Get(t)
	if err != nil {
		return nil, err
	}
	return spec.Build(base, data)
}

// Decode reconstructs a persisted instance of the given type.
func (r *Registry) Decode(t Type, raw []byte) (Instance, error) {
	spec, err := r.Get(t)
	if err != nil {
		return nil, err
	}
	return spec.Decode(raw)
}

// ValidateTemplate checks that a template references a known type and that
// its data keys build cleanly. Used at permission-authoring time so that
// instantiation cannot fail later.
func (r *Registry) ValidateTemplate(tmpl *Template) error {
	if tmpl == nil {
		return nil
	}
	if tmpl.TargetType != "" && tmpl.TargetType != TargetGoverning && tmpl.TargetType != TargetOwners {
		return fmt.Errorf("condition target type must be %q or %q, got %q",
			TargetGoverning, TargetOwners, tmpl.TargetType)
	}
	_, err := r.Build(tmpl.Type, Base{InstanceID: "probe"}, tmpl.Data)
	return err
}

// Default returns a registry with the built-in approval, vote, and
// consensus types.
func Default() *Registry {
	r := NewRegistry()
	r.Register(Spec{
		Type: TypeApproval,
		Build: func(base Base, data map[string]any) (Instance, error) {
			selfApproval, err := boolField(data, "self_approval_allowed", false)
			if err != nil {
				return nil, err
			}
			return &Approval{Base: base, SelfApprovalAllowed: selfApproval}, nil
		},
		Decode: func(raw []byte) (Instance, error) {
			var a Approval
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("decoding approval condition: %w", err)
			}
			return &a, nil
		},
	})
	r.Register(Spec{
		Type: TypeVote,
		Build: func(base Base, data map[string]any) (Instance, error) {
			v := &Vote{Base: base, Ballots: make(map[string]Choice)}
			var err error
			if v.PublicizeVotes, err = boolField(data, "publicize_votes", false); err != nil {
				return nil, err
			}
			if v.AllowAbstain, err = boolField(data, "allow_abstain", true); err != nil {
				return nil, err
			}
			if v.RequireMajority, err = boolField(data, "require_majority", false); err != nil {
				return nil, err
			}
			if v.VotingPeriod, err = durationField(data, "voting_period", DefaultVotingPeriod); err != nil {
				return nil, err
			}
			return v, nil
		},
		Decode: func(raw []byte) (Instance, error) {
			var v Vote
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("decoding vote condition: %w", err)
			}
			if v.Ballots == nil {
				v.Ballots = make(map[string]Choice)
			}
			return &v, nil
		},
	})
	r.Register(Spec{
		Type: TypeConsensus,
		Build: func(base Base, data map[string]any) (Instance, error) {
			c := &Consensus{Base: base, Responses: make(map[string]Choice)}
			var err error
			if c.IsStrict, err = boolField(data, "is_strict", false); err != nil {
				return nil, err
			}
			if c.MinimumDuration, err = durationField(data, "minimum_duration", DefaultMinimumDuration); err != nil {
				return nil, err
			}
			return c, nil
		},
		Decode: func(raw []byte) (Instance, error) {
			var c Consensus
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("decoding consensus condition: %w", err)
			}
			if c.Responses == nil {
				c.Responses = make(map[string]Choice)
			}
			return &c, nil
		},
	})
	return r
}

func boolField(data map[string]any, key string, def bool) (bool, error) {
	raw, ok := data[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		}
	}
	return false, fmt.Errorf("condition field %q must be a boolean, got %T", key, raw)
}

func durationField(data map[string]any, key string, def time.Duration) (time.Duration, error) {
	raw, ok := data[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("condition field %q: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Hour, nil
	case int64:
		return time.Duration(v) * time.Hour, nil
	case float64:
		return time.Duration(v * float64(time.Hour)), nil
	case time.Duration:
		return v, nil
	}
	return 0, fmt.Errorf("condition field %q must be a duration string or hour count, got %T", key, raw)
}
