package change

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeResources struct {
	saved *entity.Resource
}

func (f *fakeResources) GetResource(context.Context, string) (*entity.Resource, error) {
	return nil, entity.ErrResourceNotFound
}

func (f *fakeResources) SaveResource(_ context.Context, r *entity.Resource) error {
	f.saved = r
	return nil
}

func (f *fakeResources) DeleteResource(context.Context, string) error { return nil }

type fakeCommunities struct {
	saved *community.Community
}

func (f *fakeCommunities) GetCommunity(context.Context, string) (*community.Community, error) {
	return nil, community.ErrNotFound
}

func (f *fakeCommunities) SaveCommunity(_ context.Context, c *community.Community) error {
	f.saved = c
	return nil
}

type fakePermissions struct {
	saved   *permission.Record
	deleted []string
}

func (f *fakePermissions) GetPermission(context.Context, string) (*permission.Record, error) {
	return nil, permission.ErrNotFound
}

func (f *fakePermissions) PermissionsForTarget(context.Context, entity.Ref) ([]*permission.Record, error) {
	return nil, nil
}

func (f *fakePermissions) SavePermission(_ context.Context, r *permission.Record) error {
	f.saved = r
	return nil
}

func (f *fakePermissions) DeletePermission(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeConditions struct {
	saved condition.Instance
}

func (f *fakeConditions) GetInstance(context.Context, string) (condition.Instance, error) {
	return nil, condition.ErrNotFound
}

func (f *fakeConditions) SaveInstance(_ context.Context, inst condition.Instance) error {
	f.saved = inst
	return nil
}

func (f *fakeConditions) InstanceForSource(context.Context, condition.Source) (condition.Instance, error) {
	return nil, condition.ErrNotFound
}

func (f *fakeConditions) InstancesForAction(context.Context, string) ([]condition.Instance, error) {
	return nil, nil
}

type fakes struct {
	resources   *fakeResources
	communities *fakeCommunities
	permissions *fakePermissions
	conditions  *fakeConditions
}

func testEnv() (Env, *fakes) {
	f := &fakes{
		resources:   &fakeResources{},
		communities: &fakeCommunities{},
		permissions: &fakePermissions{},
		conditions:  &fakeConditions{},
	}
	env := Env{
		Resources:      f.resources,
		Communities:    f.communities,
		Permissions:    f.permissions,
		Conditions:     f.conditions,
		ConditionTypes: condition.Default(),
		NewID:          func() string { return "id-1" },
		Now:            func() time.Time { return t0 },
	}
	return env, f
}

func testResource() *entity.Resource {
	return &entity.Resource{
		ID:        "handbook",
		Name:      "Handbook",
		Creator:   "alice",
		Community: "eng",
		CreatedAt: t0,
		Governing: true,
	}
}

func TestDefaultRegistry_Catalogue(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()

	for _, typ := range []string{
		TypeRenameResource, TypeAddItem, TypeRemoveItem, TypeSetFoundationalOverride,
		TypeRenameCommunity, TypeAddOwner, TypeRemoveGovernorRole,
		TypeAddRole, TypeAddAutomatedRole, TypeAddPeopleToRole,
		TypeAddPermission, TypeRemovePermissionRole,
		TypeApproveCondition, TypeVoteOnCondition, TypeRespondToCondition,
	} {
		if !r.Known(typ) {
			t.Errorf("Known(%q) = false", typ)
		}
	}

	if !r.Foundational(TypeAddOwner) {
		t.Error("owner changes should be foundational")
	}
	if !r.Foundational(TypeSetFoundationalOverride) {
		t.Error("toggling the override should be foundational")
	}
	if r.Foundational(TypeAddItem) {
		t.Error("item changes should not be foundational")
	}
	if r.Foundational("no.such.type") {
		t.Error("unknown types should not report foundational")
	}

	if _, err := r.Get("no.such.type"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Get(unknown) error = %v, want ErrUnknownType", err)
	}

	types := r.Types()
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("Types() not sorted at %d: %q >= %q", i, types[i-1], types[i])
		}
	}
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	r := NewRegistry()
	spec := Spec{Type: "x", New: func() Change { return &AddItem{} }}
	r.Register(spec)
	r.Register(spec)
}

func TestRegistry_Decode(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()

	c, err := r.Decode(TypeAddItem, []byte(`{"item_name":"Intro"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.(*AddItem).ItemName; got != "Intro" {
		t.Errorf("decoded ItemName = %q, want Intro", got)
	}

	if _, err := r.Decode(TypeAddItem, []byte(`{`)); !IsValidation(err) {
		t.Errorf("Decode(malformed) error = %v, want ValidationError", err)
	}
	if _, err := r.Decode("no.such.type", nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Decode(unknown) error = %v, want ErrUnknownType", err)
	}

	empty, err := r.Decode(TypeRemovePermission, nil)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Type() != TypeRemovePermission {
		t.Errorf("Type() = %q", empty.Type())
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := NewValidationError("resource.rename", "field validation failed", inner)
	if !errors.Is(err, inner) {
		t.Error("ValidationError should unwrap to the inner error")
	}
	if !IsValidation(err) {
		t.Error("IsValidation should detect a wrapped ValidationError")
	}
	if IsValidation(inner) {
		t.Error("IsValidation should reject plain errors")
	}
	if !strings.Contains(err.Error(), "resource.rename") {
		t.Errorf("Error() = %q, want the change type named", err.Error())
	}
}

func TestAddItem_ValidateAndImplement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res := testResource()

	c := &AddItem{}
	if err := c.Validate(ctx, "alice", res); !IsValidation(err) {
		t.Errorf("Validate(empty name) error = %v, want ValidationError", err)
	}

	com := community.New("eng", "Engineering", "alice", t0)
	c = &AddItem{ItemName: "Intro"}
	if err := c.Validate(ctx, "alice", com); !IsValidation(err) {
		t.Errorf("Validate(community target) error = %v, want ValidationError", err)
	}

	if err := c.Validate(ctx, "alice", res); err != nil {
		t.Fatal(err)
	}
	env, f := testEnv()
	desc, err := c.Implement(ctx, "bob", res, env)
	if err != nil {
		t.Fatal(err)
	}
	if desc == "" {
		t.Error("Implement should describe the applied change")
	}
	if f.resources.saved == nil || len(f.resources.saved.Items) != 1 {
		t.Fatalf("resource not saved with the new item: %+v", f.resources.saved)
	}
	item := f.resources.saved.Items[0]
	if item.ID != "id-1" || item.Creator != "bob" {
		t.Errorf("item = %+v, want minted id and acting creator", item)
	}
}

func TestRemoveItem_Implement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res := testResource()
	if err := res.AddItem(entity.Item{ID: "i1", Name: "Intro"}); err != nil {
		t.Fatal(err)
	}
	env, f := testEnv()

	c := &RemoveItem{ItemID: "i1"}
	if _, err := c.Implement(ctx, "alice", res, env); err != nil {
		t.Fatal(err)
	}
	if len(f.resources.saved.Items) != 0 {
		t.Error("item should have been removed before saving")
	}

	if _, err := c.Implement(ctx, "alice", res, env); !errors.Is(err, entity.ErrItemNotFound) {
		t.Errorf("Implement(absent item) error = %v, want ErrItemNotFound", err)
	}
}

func TestCheckCreatorOnly(t *testing.T) {
	t.Parallel()

	res := testResource()
	c := &AddItem{ItemName: "Intro"}

	tests := []struct {
		name   string
		actor  string
		config map[string]any
		want   bool
	}{
		{name: "unconfigured", actor: "bob", config: nil, want: true},
		{name: "disabled", actor: "bob", config: map[string]any{"original_creator_only": false}, want: true},
		{name: "creator passes", actor: "alice", config: map[string]any{"original_creator_only": true}, want: true},
		{name: "non-creator fails", actor: "bob", config: map[string]any{"original_creator_only": true}, want: false},
		{name: "string true form", actor: "bob", config: map[string]any{"original_creator_only": "true"}, want: false},
		{name: "unrecognized value ignored", actor: "bob", config: map[string]any{"original_creator_only": 7}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok, reason := c.CheckConfiguration(tt.actor, res, tt.config)
			if ok != tt.want {
				t.Errorf("CheckConfiguration() = %v (%s), want %v", ok, reason, tt.want)
			}
			if !ok && reason == "" {
				t.Error("disqualification should carry a reason")
			}
		})
	}
}

func TestRenameResource_Implement(t *testing.T) {
	t.Parallel()

	res := testResource()
	env, f := testEnv()
	c := &RenameResource{NewName: "Team Handbook"}
	if _, err := c.Implement(context.Background(), "alice", res, env); err != nil {
		t.Fatal(err)
	}
	if f.resources.saved.Name != "Team Handbook" {
		t.Errorf("saved name = %q", f.resources.saved.Name)
	}
}

func TestSetFoundationalOverride(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &SetFoundationalOverride{Enabled: true}

	res := testResource()
	if err := c.Validate(ctx, "alice", res); err != nil {
		t.Fatal(err)
	}
	env, f := testEnv()
	if _, err := c.Implement(ctx, "alice", res, env); err != nil {
		t.Fatal(err)
	}
	if !f.resources.saved.FoundationalOverride() {
		t.Error("resource override should be enabled after implement")
	}

	rec := &permission.Record{ID: "p1", Target: res.Ref(), ChangeType: TypeAddItem, Community: "eng"}
	if _, err := c.Implement(ctx, "alice", rec, env); err != nil {
		t.Fatal(err)
	}
	if !f.permissions.saved.SelfFoundational {
		t.Error("permission override should be enabled after implement")
	}

	inst, err := condition.Default().Build(condition.TypeApproval, condition.Base{InstanceID: "c1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(ctx, "alice", inst); !IsValidation(err) {
		t.Errorf("Validate(condition target) error = %v, want ValidationError", err)
	}
}

func TestRemoveOwner_LastOwnerGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	com := community.New("eng", "Engineering", "alice", t0)
	env, f := testEnv()

	c := &RemoveOwner{Actor: "alice"}
	if _, err := c.Implement(ctx, "alice", com, env); err == nil {
		t.Fatal("removing the last owner should fail")
	}

	com.Authority.Owners.Actors.Add("bob")
	if _, err := c.Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if f.communities.saved.Authority.Owners.Actors.Contains("alice") {
		t.Error("alice should have been removed from the owner set")
	}
}

func TestRemoveOwnerRole_LastOwnerGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pair := entity.RolePair{Community: "eng", Role: "leads"}
	com := community.New("eng", "Engineering", "alice", t0)
	com.Authority.Owners = community.Leadership{Roles: entity.NewRolePairList(pair)}
	env, _ := testEnv()

	c := &RemoveOwnerRole{Role: pair}
	if _, err := c.Implement(ctx, "alice", com, env); err == nil {
		t.Error("removing the last owner role should fail")
	}
}

func TestGovernorChanges_Implement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	com := community.New("eng", "Engineering", "alice", t0)
	env, f := testEnv()

	if _, err := (&AddGovernor{Actor: "bob"}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if !f.communities.saved.Authority.Governors.Actors.Contains("bob") {
		t.Error("bob should be a governor")
	}

	pair := entity.RolePair{Community: "eng", Role: "leads"}
	if _, err := (&AddGovernorRole{Role: pair}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if !f.communities.saved.Authority.Governors.Roles.Contains(pair) {
		t.Error("leads should be a governor role")
	}

	if _, err := (&RemoveGovernor{Actor: "bob"}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if f.communities.saved.Authority.Governors.Actors.Contains("bob") {
		t.Error("bob should no longer be a governor")
	}
}

func TestAddGovernorRole_ValidateRejectsPartialPair(t *testing.T) {
	t.Parallel()

	com := community.New("eng", "Engineering", "alice", t0)
	c := &AddGovernorRole{Role: entity.RolePair{Community: "eng"}}
	if err := c.Validate(context.Background(), "alice", com); !IsValidation(err) {
		t.Errorf("Validate(partial pair) error = %v, want ValidationError", err)
	}
}

func TestRoleChanges_Implement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	com := community.New("eng", "Engineering", "alice", t0)
	env, f := testEnv()

	if _, err := (&AddRole{Name: "maintainers"}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if _, err := (&AddPeopleToRole{Role: "maintainers", Actors: []string{"bob"}}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if !f.communities.saved.Roles.HasAssigned("maintainers", "bob") {
		t.Error("bob should hold the maintainers role")
	}

	if _, err := (&RemovePeopleFromRole{Role: "maintainers", Actors: []string{"bob"}}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if f.communities.saved.Roles.HasAssigned("maintainers", "bob") {
		t.Error("bob should no longer hold the role")
	}

	if _, err := (&AddRole{Name: "maintainers"}).Implement(ctx, "alice", com, env); !errors.Is(err, community.ErrRoleExists) {
		t.Errorf("duplicate AddRole error = %v, want ErrRoleExists", err)
	}

	if _, err := (&AddAutomatedRole{Name: "senior", Predicate: "attrs.level >= 5"}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.communities.saved.Roles.AutomatedPredicate("senior"); !ok {
		t.Error("senior should be an automated role")
	}

	if _, err := (&RemoveRole{Name: "maintainers"}).Implement(ctx, "alice", com, env); err != nil {
		t.Fatal(err)
	}
	if f.communities.saved.Roles.HasRoleName("maintainers") {
		t.Error("maintainers should have been removed")
	}
}

func TestRemoveRole_ValidateRejectsReservedRole(t *testing.T) {
	t.Parallel()

	com := community.New("eng", "Engineering", "alice", t0)
	c := &RemoveRole{Name: community.ReservedMemberRole}
	err := c.Validate(context.Background(), "alice", com)
	if !errors.Is(err, community.ErrReservedRole) {
		t.Errorf("Validate(members) error = %v, want ErrReservedRole", err)
	}
}

func TestCheckRoleName(t *testing.T) {
	t.Parallel()

	c := &AddPeopleToRole{Role: "maintainers", Actors: []string{"bob"}}

	if ok, _ := c.CheckConfiguration("alice", nil, nil); !ok {
		t.Error("unconfigured role_name should not restrict")
	}
	if ok, _ := c.CheckConfiguration("alice", nil, map[string]any{"role_name": "maintainers"}); !ok {
		t.Error("matching role_name should pass")
	}
	ok, reason := c.CheckConfiguration("alice", nil, map[string]any{"role_name": "ops"})
	if ok {
		t.Error("mismatched role_name should disqualify")
	}
	if reason == "" {
		t.Error("disqualification should carry a reason")
	}
}

func TestAddPermission_Validate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res := testResource()

	tests := []struct {
		name    string
		change  *AddPermission
		wantErr bool
	}{
		{
			name:   "actor grant",
			change: &AddPermission{ChangeType: TypeAddItem, Actors: []string{"bob"}},
		},
		{
			name:   "anyone grant with configuration",
			change: &AddPermission{ChangeType: TypeAddItem, Anyone: true, Configuration: map[string]any{"original_creator_only": true}},
		},
		{
			name:    "unknown covered change type",
			change:  &AddPermission{ChangeType: "no.such.type", Anyone: true},
			wantErr: true,
		},
		{
			name:    "grants nobody",
			change:  &AddPermission{ChangeType: TypeAddItem},
			wantErr: true,
		},
		{
			name:    "invalid condition template",
			change:  &AddPermission{ChangeType: TypeAddItem, Anyone: true, Condition: &condition.Template{Type: "lottery"}},
			wantErr: true,
		},
		{
			name:    "configuration key not configurable",
			change:  &AddPermission{ChangeType: TypeRenameResource, Anyone: true, Configuration: map[string]any{"original_creator_only": true}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.change.Validate(ctx, "alice", res)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !IsValidation(err) {
				t.Errorf("error %v should be a ValidationError", err)
			}
		})
	}
}

func TestAddPermission_Implement(t *testing.T) {
	t.Parallel()

	res := testResource()
	env, f := testEnv()

	c := &AddPermission{
		ChangeType: TypeAddItem,
		Actors:     []string{"bob"},
		Condition:  &condition.Template{Type: condition.TypeApproval},
	}
	if _, err := c.Implement(context.Background(), "alice", res, env); err != nil {
		t.Fatal(err)
	}

	rec := f.permissions.saved
	if rec == nil {
		t.Fatal("no permission record saved")
	}
	if rec.ID != "id-1" || rec.Target != res.Ref() || rec.Community != "eng" {
		t.Errorf("record = %+v, want minted id scoped to the target", rec)
	}
	if !rec.Actors.Contains("bob") || rec.Condition == nil {
		t.Errorf("record = %+v, want actor grant with condition", rec)
	}
	if !rec.SelfGoverning {
		t.Error("new records should start with governing enabled")
	}
	if !rec.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want env clock", rec.CreatedAt)
	}
}

func TestPermissionRecordChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res := testResource()
	rec := &permission.Record{
		ID:         "p1",
		Target:     res.Ref(),
		ChangeType: TypeAddItem,
		Community:  "eng",
		Actors:     entity.NewActorSet("bob"),
	}
	env, f := testEnv()

	if err := (&AddPermissionActor{Actor: "carol"}).Validate(ctx, "alice", res); !IsValidation(err) {
		t.Errorf("Validate(resource target) error = %v, want ValidationError", err)
	}

	if _, err := (&AddPermissionActor{Actor: "carol"}).Implement(ctx, "alice", rec, env); err != nil {
		t.Fatal(err)
	}
	if !f.permissions.saved.Actors.Contains("carol") {
		t.Error("carol should have been granted")
	}

	if _, err := (&RemovePermissionActor{Actor: "bob"}).Implement(ctx, "alice", rec, env); err != nil {
		t.Fatal(err)
	}
	if f.permissions.saved.Actors.Contains("bob") {
		t.Error("bob should have been revoked")
	}

	pair := entity.RolePair{Community: "eng", Role: "maintainers"}
	if _, err := (&AddPermissionRole{Role: pair}).Implement(ctx, "alice", rec, env); err != nil {
		t.Fatal(err)
	}
	if !f.permissions.saved.Roles.Contains(pair) {
		t.Error("role pair should have been granted")
	}
	if _, err := (&RemovePermissionRole{Role: pair}).Implement(ctx, "alice", rec, env); err != nil {
		t.Fatal(err)
	}
	if f.permissions.saved.Roles.Contains(pair) {
		t.Error("role pair should have been revoked")
	}

	if _, err := (&RemovePermission{}).Implement(ctx, "alice", rec, env); err != nil {
		t.Fatal(err)
	}
	if len(f.permissions.deleted) != 1 || f.permissions.deleted[0] != "p1" {
		t.Errorf("deleted = %v, want [p1]", f.permissions.deleted)
	}
}

func TestConditionChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := condition.Base{
		InstanceID: "c1",
		Src:        condition.Source{ActionID: "a1", Tier: "governing", PermissionID: "p1"},
		Community:  "eng",
		Actor:      "bob",
		CreatedAt:  t0,
	}
	inst, err := condition.Default().Build(condition.TypeApproval, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	env, f := testEnv()

	c := &ApproveCondition{}
	if err := c.Validate(ctx, "carol", inst); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Implement(ctx, "carol", inst, env); err != nil {
		t.Fatal(err)
	}
	if f.conditions.saved == nil {
		t.Fatal("instance not saved after approval")
	}
	if !f.conditions.saved.Resolved(t0) || !f.conditions.saved.Approved(t0) {
		t.Error("a lone approval should resolve and approve the condition")
	}

	if err := c.Validate(ctx, "carol", testResource()); !IsValidation(err) {
		t.Errorf("Validate(resource target) error = %v, want ValidationError", err)
	}
}

func TestVoteOnCondition_ValidateChoice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inst, err := condition.Default().Build(condition.TypeVote, condition.Base{InstanceID: "c1", CreatedAt: t0}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := (&VoteOnCondition{Choice: condition.ChoiceYea}).Validate(ctx, "bob", inst); err != nil {
		t.Fatal(err)
	}
	if err := (&VoteOnCondition{Choice: condition.ChoiceBlock}).Validate(ctx, "bob", inst); !IsValidation(err) {
		t.Errorf("Validate(block ballot) error = %v, want ValidationError", err)
	}
	if err := (&RespondToCondition{Choice: condition.ChoiceBlock}).Validate(ctx, "bob", inst); err != nil {
		t.Fatal(err)
	}
	if err := (&RespondToCondition{Choice: condition.ChoiceYea}).Validate(ctx, "bob", inst); !IsValidation(err) {
		t.Errorf("Validate(yea response) error = %v, want ValidationError", err)
	}
}
