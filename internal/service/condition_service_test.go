package service

import (
	"context"
	"testing"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

func newGatedAction(f *fixture, id, actor string, target entity.Ref) *action.Action {
	return action.New(id, actor, target, &change.AddItem{ItemName: "Guide"}, f.now)
}

func TestStateForSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	src := condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}

	state, _, err := f.conditions.StateForSource(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if state != SourceNone {
		t.Fatalf("state = %v, want none before instantiation", state)
	}

	act := newGatedAction(f, "a1", "carol", res.Ref())
	inst, err := f.conditions.Instantiate(ctx, src, &condition.Template{Type: condition.TypeApproval}, act, res)
	if err != nil {
		t.Fatal(err)
	}

	state, open, err := f.conditions.StateForSource(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if state != SourceOpen || open.ID() != inst.ID() {
		t.Fatalf("state = %v, want the open instance", state)
	}

	if err := inst.Apply("dave", condition.ChoiceApprove, f.now); err != nil {
		t.Fatal(err)
	}
	if err := f.condStore.SaveInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}
	state, _, err = f.conditions.StateForSource(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if state != SourceApproved {
		t.Errorf("state = %v, want approved", state)
	}
}

func TestStateForSource_Rejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	src := condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}

	act := newGatedAction(f, "a1", "carol", res.Ref())
	inst, err := f.conditions.Instantiate(ctx, src, &condition.Template{Type: condition.TypeApproval}, act, res)
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Apply("dave", condition.ChoiceReject, f.now); err != nil {
		t.Fatal(err)
	}
	if err := f.condStore.SaveInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}

	state, _, err := f.conditions.StateForSource(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if state != SourceRejected {
		t.Errorf("state = %v, want rejected", state)
	}
}

func TestInstantiate_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	src := condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}
	act := newGatedAction(f, "a1", "carol", res.Ref())
	tmpl := &condition.Template{Type: condition.TypeApproval}

	first, err := f.conditions.Instantiate(ctx, src, tmpl, act, res)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.conditions.Instantiate(ctx, src, tmpl, act, res)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID() != second.ID() {
		t.Errorf("Instantiate minted %q then %q, want the stored instance reused", first.ID(), second.ID())
	}
}

func TestInstantiate_EligibilityBecomesPermissions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	src := condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}
	act := newGatedAction(f, "a1", "carol", res.Ref())

	tmpl := &condition.Template{
		Type: condition.TypeVote,
		Eligibility: condition.EligibilitySpec{
			Vote: &condition.Grant{Actors: []string{"dave", "erin"}},
		},
	}
	inst, err := f.conditions.Instantiate(ctx, src, tmpl, act, res)
	if err != nil {
		t.Fatal(err)
	}

	recs, err := f.permissions.PermissionsForTarget(ctx, inst.Ref())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want one for the vote facet", len(recs))
	}
	rec := recs[0]
	if rec.ChangeType != change.TypeVoteOnCondition {
		t.Errorf("ChangeType = %q, want the vote sub-action", rec.ChangeType)
	}
	if !rec.Actors.Contains("dave") || !rec.Actors.Contains("erin") {
		t.Errorf("Actors = %v, want the facet grant", rec.Actors.Slice())
	}

	vote, ok := inst.(*condition.Vote)
	if !ok {
		t.Fatalf("instance type = %T, want *condition.Vote", inst)
	}
	if vote.EligibleCount != 2 {
		t.Errorf("EligibleCount = %d, want the enumerable electorate", vote.EligibleCount)
	}
}

func TestInstantiate_RoleGrantLeavesElectorateUnbounded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	act := newGatedAction(f, "a1", "carol", res.Ref())

	tmpl := &condition.Template{
		Type: condition.TypeVote,
		Eligibility: condition.EligibilitySpec{
			Vote: &condition.Grant{Roles: []entity.RolePair{{Community: "eng", Role: "members"}}},
		},
	}
	inst, err := f.conditions.Instantiate(ctx,
		condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}, tmpl, act, res)
	if err != nil {
		t.Fatal(err)
	}
	if vote := inst.(*condition.Vote); vote.EligibleCount != 0 {
		t.Errorf("EligibleCount = %d, role grants cannot be enumerated", vote.EligibleCount)
	}
}

func TestInstantiate_ActionSourcedActor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	act := newGatedAction(f, "a1", "carol", res.Ref())

	// The approve facet is filled from the triggering action's actor, so
	// the gated actor decides their own condition.
	tmpl := &condition.Template{
		Type: condition.TypeApproval,
		Data: map[string]any{"self_approval_allowed": true},
		ActionSourced: map[string]condition.ActionSourceRule{
			"approve": {Replacement: condition.SourceActor},
		},
	}
	inst, err := f.conditions.Instantiate(ctx,
		condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}, tmpl, act, res)
	if err != nil {
		t.Fatal(err)
	}

	recs, err := f.permissions.PermissionsForTarget(ctx, inst.Ref())
	if err != nil {
		t.Fatal(err)
	}
	var approveRec bool
	for _, rec := range recs {
		if rec.ChangeType == change.TypeApproveCondition && rec.Actors.Contains("carol") {
			approveRec = true
		}
	}
	if !approveRec {
		t.Error("approve facet should have been filled with the action's actor")
	}

	// The stored template is untouched.
	if tmpl.Eligibility.Approve != nil {
		t.Error("Instantiate mutated the caller's template")
	}
}

func TestInstantiate_ActionSourcedChangeParameter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()
	act := newGatedAction(f, "a1", "carol", res.Ref())

	tmpl := &condition.Template{
		Type: condition.TypeApproval,
		ActionSourced: map[string]condition.ActionSourceRule{
			"approve": {Replacement: condition.SourceChangeParameter, Parameter: "item_name"},
		},
	}
	inst, err := f.conditions.Instantiate(ctx,
		condition.Source{ActionID: "a1", Tier: "specific", PermissionID: "p1"}, tmpl, act, res)
	if err != nil {
		t.Fatal(err)
	}

	recs, err := f.permissions.PermissionsForTarget(ctx, inst.Ref())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, rec := range recs {
		if rec.ChangeType == change.TypeApproveCondition && rec.Actors.Contains("Guide") {
			found = true
		}
	}
	if !found {
		t.Error("approve facet should have been filled from the change field")
	}
}
