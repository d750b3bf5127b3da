package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agora-works/agora/internal/domain/entity"
)

const sampleSeed = `
actors:
  - id: alice
    attributes:
      level: 7
      team: infra
communities:
  - id: eng
    name: Engineering
    creator: alice
    owners:
      actors: [alice]
    governors:
      actors: [alice]
      roles:
        - community: eng
          role: maintainers
    assigned:
      maintainers: [alice, bob]
    automated:
      senior: 'attrs.level >= 5'
resources:
  - id: handbook
    name: Handbook
    creator: alice
    community: eng
    items:
      - id: intro
        name: Introduction
        creator: alice
permissions:
  - id: perm-add-item
    target: resource:handbook
    change_type: resource.add_item
    roles:
      - community: eng
        role: maintainers
    condition:
      type: approval
      eligibility:
        approve:
          actors: [alice]
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	seed, err := LoadSeed(writeSeedFile(t, sampleSeed))
	if err != nil {
		t.Fatalf("LoadSeed() error: %v", err)
	}

	if len(seed.Communities) != 1 || seed.Communities[0].ID != "eng" {
		t.Errorf("Communities = %+v, want one community eng", seed.Communities)
	}
	if len(seed.Resources) != 1 || seed.Resources[0].Community != "eng" {
		t.Errorf("Resources = %+v, want one resource in eng", seed.Resources)
	}
	if got := seed.Permissions[0].Condition.Type; string(got) != "approval" {
		t.Errorf("Condition.Type = %q, want approval", got)
	}
	if !seed.Communities[0].CommunityGoverning() {
		t.Error("CommunityGoverning() = false, want default true")
	}
}

func TestLoadSeed_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadSeed(writeSeedFile(t, "communities:\n  - id: eng\n    naame: typo\n"))
	if err == nil {
		t.Fatal("LoadSeed() = nil, want error for unknown field")
	}
}

func TestLoadSeed_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("LoadSeed() = nil, want error for missing file")
	}
}

func TestSeedValidate_UnknownCommunityReference(t *testing.T) {
	t.Parallel()

	seed := &Seed{
		Resources: []SeedResource{
			{ID: "r1", Name: "R", Creator: "alice", Community: "ghost"},
		},
	}

	err := seed.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error for unknown community")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error %q should name the missing community", err)
	}
}

func TestSeedValidate_BadPermissionTarget(t *testing.T) {
	t.Parallel()

	seed := &Seed{
		Permissions: []SeedPermission{
			{ID: "p1", Target: "not-a-ref", ChangeType: "resource.add_item"},
		},
	}

	if err := seed.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for malformed target ref")
	}
}

func TestSeedValidate_UndeclaredRole(t *testing.T) {
	t.Parallel()

	seed := &Seed{
		Communities: []SeedCommunity{
			{ID: "eng", Name: "Engineering", Creator: "alice"},
		},
		Permissions: []SeedPermission{
			{
				ID:         "p1",
				Target:     "community:eng",
				ChangeType: "community.add_members",
				Roles:      []entity.RolePair{{Community: "eng", Role: "wizards"}},
			},
		},
	}

	// A role pair naming a declared community but an undeclared role fails.
	if err := seed.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for undeclared role")
	}

	// The reserved members role always exists.
	seed.Permissions[0].Roles[0] = entity.RolePair{Community: "eng", Role: "members"}
	if err := seed.Validate(); err != nil {
		t.Errorf("Validate() unexpected error for members role: %v", err)
	}

	// Pairs naming communities outside the seed are allowed.
	seed.Permissions[0].Roles[0] = entity.RolePair{Community: "external", Role: "anything"}
	if err := seed.Validate(); err != nil {
		t.Errorf("Validate() unexpected error for external community: %v", err)
	}
}
