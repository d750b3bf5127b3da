package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "agora.db"), change.DefaultRegistry(), condition.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func TestStore_Resources(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	if _, err := s.GetResource(ctx, "ghost"); !errors.Is(err, entity.ErrResourceNotFound) {
		t.Errorf("GetResource(absent) error = %v, want ErrResourceNotFound", err)
	}

	res := &entity.Resource{ID: "handbook", Name: "Handbook", Creator: "alice",
		Community: "eng", CreatedAt: t0, Governing: true}
	if err := res.AddItem(entity.Item{ID: "i1", Name: "Intro", Creator: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveResource(ctx, res); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Handbook" || len(got.Items) != 1 || !got.GoverningEnabled() {
		t.Errorf("round-tripped resource = %+v", got)
	}

	res.Name = "Team Handbook"
	if err := s.SaveResource(ctx, res); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Team Handbook" {
		t.Errorf("Name after upsert = %q", got.Name)
	}

	if err := s.DeleteResource(ctx, "handbook"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteResource(ctx, "handbook"); !errors.Is(err, entity.ErrResourceNotFound) {
		t.Errorf("DeleteResource(absent) error = %v, want ErrResourceNotFound", err)
	}
}

func TestStore_Communities(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	com := community.New("eng", "Engineering", "alice", t0)
	if err := com.Roles.AddRole("maintainers"); err != nil {
		t.Fatal(err)
	}
	if err := com.Roles.AddMembers("maintainers", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCommunity(ctx, com); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCommunity(ctx, "eng")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Authority.Owners.Actors.Contains("alice") {
		t.Error("owner set lost in round trip")
	}
	if !got.Roles.HasAssigned("maintainers", "bob") {
		t.Error("role membership lost in round trip")
	}

	if _, err := s.GetCommunity(ctx, "ghost"); !errors.Is(err, community.ErrNotFound) {
		t.Errorf("GetCommunity(absent) error = %v, want ErrNotFound", err)
	}
}

func TestStore_PermissionsByTarget(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	target := entity.NewRef(entity.KindResource, "handbook")

	for _, id := range []string{"p1", "p2"} {
		rec := &permission.Record{
			ID:         id,
			Target:     target,
			ChangeType: change.TypeAddItem,
			Actors:     entity.NewActorSet("carol"),
			Condition:  &condition.Template{Type: condition.TypeApproval},
			Community:  "eng",
			CreatedAt:  t0,
		}
		if err := s.SavePermission(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.PermissionsForTarget(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "p1" || recs[1].ID != "p2" {
		t.Fatalf("PermissionsForTarget = %d records, want insertion order p1 p2", len(recs))
	}
	if recs[0].Condition == nil || recs[0].Condition.Type != condition.TypeApproval {
		t.Error("condition template lost in round trip")
	}

	if err := s.DeletePermission(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetPermission(ctx, "p1"); !errors.Is(err, permission.ErrNotFound) {
		t.Errorf("GetPermission(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestStore_Conditions(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	src := condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}

	inst, err := condition.Default().Build(condition.TypeVote,
		condition.Base{InstanceID: "c1", Src: src, Community: "eng", Actor: "carol", CreatedAt: t0},
		map[string]any{"require_majority": true})
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Apply("dave", condition.ChoiceYea, t0); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}

	got, err := s.InstanceForSource(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	vote, ok := got.(*condition.Vote)
	if !ok {
		t.Fatalf("decoded type = %T, want *condition.Vote", got)
	}
	if !vote.RequireMajority || vote.Ballots["dave"] != condition.ChoiceYea {
		t.Errorf("vote state lost in round trip: %+v", vote)
	}
	if vote.Source() != src {
		t.Errorf("Source = %+v, want %+v", vote.Source(), src)
	}

	byAction, err := s.InstancesForAction(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byAction) != 1 || byAction[0].ID() != "c1" {
		t.Errorf("InstancesForAction = %d instances, want c1", len(byAction))
	}

	if _, err := s.GetInstance(ctx, "ghost"); !errors.Is(err, condition.ErrNotFound) {
		t.Errorf("GetInstance(absent) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ActionsRoundTripChange(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	target := entity.NewRef(entity.KindResource, "handbook")

	act := action.New("a1", "bob", target, &change.AddItem{ItemName: "Intro"}, t0)
	act.Status = action.StatusWaiting
	act.Resolution.Specific = action.TierResult{
		Verdict:      action.VerdictWaiting,
		PermissionID: "p1",
		ConditionIDs: []string{"c1"},
	}
	if err := s.SaveAction(ctx, act); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAction(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != action.StatusWaiting {
		t.Errorf("Status = %v", got.Status)
	}
	added, ok := got.Change.(*change.AddItem)
	if !ok {
		t.Fatalf("Change type = %T, want *change.AddItem", got.Change)
	}
	if added.ItemName != "Intro" {
		t.Errorf("ItemName = %q, want Intro", added.ItemName)
	}
	if ids := got.Resolution.ConditionIDs(); len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("ConditionIDs = %v, want [c1]", ids)
	}

	if _, err := s.GetAction(ctx, "ghost"); !errors.Is(err, action.ErrNotFound) {
		t.Errorf("GetAction(absent) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ActionsForContainer(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	target := entity.NewRef(entity.KindResource, "handbook")

	for _, id := range []string{"a1", "a2"} {
		act := action.New(id, "bob", target, &change.AddItem{ItemName: id}, t0)
		act.ContainerID = "b1"
		if err := s.SaveAction(ctx, act); err != nil {
			t.Fatal(err)
		}
	}
	loose := action.New("a3", "bob", target, &change.AddItem{ItemName: "loose"}, t0)
	if err := s.SaveAction(ctx, loose); err != nil {
		t.Fatal(err)
	}

	members, err := s.ActionsForContainer(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].ID != "a1" || members[1].ID != "a2" {
		t.Errorf("ActionsForContainer = %d members, want insertion order a1 a2", len(members))
	}
}

func TestStore_Containers(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	c := &container.Container{
		ID:        "b1",
		Actor:     "bob",
		Mode:      container.ModeAllOrNothing,
		Status:    container.StatusWaiting,
		ActionIDs: []string{"a1", "a2"},
		CreatedAt: t0,
	}
	if err := s.SaveContainer(ctx, c); err != nil {
		t.Fatal(err)
	}

	c.Status = container.StatusImplemented
	if err := s.SaveContainer(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetContainer(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != container.StatusImplemented || len(got.ActionIDs) != 2 {
		t.Errorf("round-tripped container = %+v", got)
	}

	if _, err := s.GetContainer(ctx, "ghost"); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("GetContainer(absent) error = %v, want ErrNotFound", err)
	}
}

func TestStore_SeqSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agora.db")
	target := entity.NewRef(entity.KindResource, "handbook")
	ctx := context.Background()

	s, err := Open(path, change.DefaultRegistry(), condition.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SavePermission(ctx, &permission.Record{
		ID: "p1", Target: target, ChangeType: change.TypeAddItem, Community: "eng"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path, change.DefaultRegistry(), condition.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.SavePermission(ctx, &permission.Record{
		ID: "p2", Target: target, ChangeType: change.TypeAddItem, Community: "eng"}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.PermissionsForTarget(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "p1" || recs[1].ID != "p2" {
		t.Errorf("records after reopen = %d, want p1 then p2", len(recs))
	}
}
