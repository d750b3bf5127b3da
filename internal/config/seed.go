package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Seed is the bootstrap file schema: communities, resources, actor
// attributes, and permission records created before the server accepts
// requests. Seeding runs on a trusted context, bypassing resolution, so the
// file is the operator's statement of the initial governance state.
type Seed struct {
	Actors      []SeedActor      `yaml:"actors"`
	Communities []SeedCommunity  `yaml:"communities"`
	Resources   []SeedResource   `yaml:"resources"`
	Permissions []SeedPermission `yaml:"permissions"`
}

// SeedActor registers attributes for automated-role predicates.
type SeedActor struct {
	ID         string         `yaml:"id" validate:"required"`
	Attributes map[string]any `yaml:"attributes"`
}

// SeedLeadership names the holders of one authority level.
type SeedLeadership struct {
	Actors    []string            `yaml:"actors"`
	Roles     []entity.RolePair   `yaml:"roles"`
	Condition *condition.Template `yaml:"condition"`
}

// SeedCommunity declares a community with its roles and authority records.
type SeedCommunity struct {
	ID      string `yaml:"id" validate:"required"`
	Name    string `yaml:"name" validate:"required"`
	Creator string `yaml:"creator" validate:"required"`

	Owners    SeedLeadership `yaml:"owners"`
	Governors SeedLeadership `yaml:"governors"`

	// Assigned maps role names to member lists. The reserved members role
	// is created automatically when absent.
	Assigned map[string][]string `yaml:"assigned"`
	// Automated maps role names to predicate expressions.
	Automated map[string]string `yaml:"automated"`

	Foundational bool  `yaml:"foundational"`
	Governing    *bool `yaml:"governing"`
}

// SeedResource declares a governed resource.
type SeedResource struct {
	ID        string `yaml:"id" validate:"required"`
	Name      string `yaml:"name" validate:"required"`
	Creator   string `yaml:"creator" validate:"required"`
	Community string `yaml:"community" validate:"required"`

	Items []SeedItem `yaml:"items"`

	Foundational bool  `yaml:"foundational"`
	Governing    *bool `yaml:"governing"`
}

// SeedItem is one entry on a seeded resource.
type SeedItem struct {
	ID      string `yaml:"id" validate:"required"`
	Name    string `yaml:"name" validate:"required"`
	Creator string `yaml:"creator"`
}

// SeedPermission declares a permission record. Target is the string form of
// an entity reference, e.g. "resource:handbook" or "community:eng".
type SeedPermission struct {
	ID         string `yaml:"id" validate:"required"`
	Target     string `yaml:"target" validate:"required"`
	ChangeType string `yaml:"change_type" validate:"required"`

	Actors  []string          `yaml:"actors"`
	Roles   []entity.RolePair `yaml:"roles"`
	Anyone  bool              `yaml:"anyone"`
	Inverse bool              `yaml:"inverse"`

	Configuration map[string]any      `yaml:"configuration"`
	Condition     *condition.Template `yaml:"condition"`

	Foundational bool `yaml:"foundational"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Validate checks referential integrity: resources and permissions must
// reference declared communities, and role pairs must name declared roles.
func (s *Seed) Validate() error {
	communities := make(map[string]*SeedCommunity, len(s.Communities))
	for i := range s.Communities {
		c := &s.Communities[i]
		if c.ID == "" {
			return fmt.Errorf("communities[%d]: id is required", i)
		}
		if _, dup := communities[c.ID]; dup {
			return fmt.Errorf("communities[%d]: duplicate id %q", i, c.ID)
		}
		communities[c.ID] = c
	}

	for i, r := range s.Resources {
		if r.ID == "" {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
		if _, ok := communities[r.Community]; !ok {
			return fmt.Errorf("resources[%d]: references unknown community %q", i, r.Community)
		}
	}

	for i, p := range s.Permissions {
		if p.ID == "" {
			return fmt.Errorf("permissions[%d]: id is required", i)
		}
		if _, err := entity.ParseRef(p.Target); err != nil {
			return fmt.Errorf("permissions[%d]: %w", i, err)
		}
		if p.ChangeType == "" {
			return fmt.Errorf("permissions[%d]: change_type is required", i)
		}
		for _, pair := range p.Roles {
			if err := checkRolePair(communities, pair); err != nil {
				return fmt.Errorf("permissions[%d]: %w", i, err)
			}
		}
	}

	for id, c := range communities {
		for _, pair := range append(c.Owners.Roles, c.Governors.Roles...) {
			if err := checkRolePair(communities, pair); err != nil {
				return fmt.Errorf("community %q: %w", id, err)
			}
		}
	}
	return nil
}

// checkRolePair verifies a role pair against the declared communities. Pairs
// referencing communities outside the seed are allowed: they may exist
// already in a persistent store.
func checkRolePair(communities map[string]*SeedCommunity, pair entity.RolePair) error {
	if pair.Community == "" || pair.Role == "" {
		return fmt.Errorf("malformed role pair %q", pair.String())
	}
	c, ok := communities[pair.Community]
	if !ok {
		return nil
	}
	if _, assigned := c.Assigned[pair.Role]; assigned {
		return nil
	}
	if _, automated := c.Automated[pair.Role]; automated {
		return nil
	}
	if pair.Role == community.ReservedMemberRole {
		return nil
	}
	return fmt.Errorf("role pair %q references undeclared role", pair.String())
}

// governingEnabled returns the seeded governing flag, defaulting to true.
func governingEnabled(flag *bool) bool {
	return flag == nil || *flag
}

// CommunityGoverning reports the effective governing flag for a seeded
// community.
func (c SeedCommunity) CommunityGoverning() bool { return governingEnabled(c.Governing) }

// ResourceGoverning reports the effective governing flag for a seeded
// resource.
func (r SeedResource) ResourceGoverning() bool { return governingEnabled(r.Governing) }
