package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

func TestContainer_PartialApplyCommitsApprovedMembers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	c, err := f.batch.Create(ctx, "alice", container.ModePartialApply, "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
		{Actor: "mallory", Target: res.Ref(), Change: &change.AddItem{ItemName: "Spam"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Approved effects are kept, but a rejected member settles the batch
	// as rejected.
	if c.Status != container.StatusRejected {
		t.Fatalf("Status = %v, want rejected: %s", c.Status, c.Summary)
	}
	if len(c.ActionIDs) != 2 {
		t.Fatalf("ActionIDs = %v, want both members", c.ActionIDs)
	}

	stored, err := f.resources.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 1 || stored.Items[0].Name != "Intro" {
		t.Errorf("items = %+v, only the approved member should apply", stored.Items)
	}

	members, err := f.actions.ActionsForContainer(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	var implemented, rejected int
	for _, act := range members {
		switch act.Status {
		case action.StatusImplemented:
			implemented++
		case action.StatusRejected:
			rejected++
		}
	}
	if implemented != 1 || rejected != 1 {
		t.Errorf("members = %d implemented, %d rejected, want 1 and 1", implemented, rejected)
	}
}

func TestContainer_AllOrNothingDiscardsOnRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	c, err := f.batch.Create(ctx, "alice", container.ModeAllOrNothing, "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
		{Actor: "mallory", Target: res.Ref(), Change: &change.AddItem{ItemName: "Spam"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != container.StatusRejected {
		t.Fatalf("Status = %v, one rejection discards the batch", c.Status)
	}

	stored, err := f.resources.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 0 {
		t.Error("no member may apply when the batch is discarded")
	}

	members, err := f.actions.ActionsForContainer(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, act := range members {
		if act.Status != action.StatusRejected {
			t.Errorf("member %s status = %v, want rejected", act.ID, act.Status)
		}
	}
}

func TestContainer_AllOrNothingDiscardClosesWaitingMembers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	rec := &permission.Record{
		ID:         "p1",
		Target:     res.Ref(),
		ChangeType: change.TypeAddItem,
		Actors:     entity.NewActorSet("carol"),
		Community:  "eng",
		Condition: &condition.Template{
			Type: condition.TypeApproval,
			Eligibility: condition.EligibilitySpec{
				Approve: &condition.Grant{Actors: []string{"dave"}},
			},
		},
	}
	if err := f.permissions.SavePermission(ctx, rec); err != nil {
		t.Fatal(err)
	}

	c, err := f.batch.Create(ctx, "carol", container.ModeAllOrNothing, "", []Proposal{
		{Actor: "mallory", Target: res.Ref(), Change: &change.AddItem{ItemName: "Spam"}},
		{Actor: "carol", Target: res.Ref(), Change: &change.AddItem{ItemName: "Guide"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != container.StatusRejected {
		t.Fatalf("Status = %v, one rejection discards the batch", c.Status)
	}

	// The member that was still waiting on its condition must not stay
	// open inside a closed batch.
	members, err := f.actions.ActionsForContainer(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, act := range members {
		if !act.Status.Terminal() {
			t.Errorf("member %s status = %v, want terminal", act.ID, act.Status)
		}
	}
	if open := testutil.ToFloat64(f.metrics.ConditionsOpen); open != 0 {
		t.Errorf("open conditions gauge = %v after discard, want 0", open)
	}
}

func TestContainer_AllOrNothingCommitsFullBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	c, err := f.batch.Create(ctx, "alice", container.ModeAllOrNothing, "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "One"}},
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Two"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != container.StatusImplemented {
		t.Fatalf("Status = %v, want implemented: %s", c.Status, c.Summary)
	}

	stored, err := f.resources.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 2 {
		t.Errorf("items = %d, want both members applied", len(stored.Items))
	}
}

func TestContainer_DuplicateProposalDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")

	c, err := f.batch.Create(context.Background(), "alice", container.ModePartialApply, "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.ActionIDs) != 1 {
		t.Errorf("ActionIDs = %v, identical proposals should collapse", c.ActionIDs)
	}
}

func TestContainer_CreateRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	if _, err := f.batch.Create(ctx, "alice", container.ModePartialApply, "", nil); !errors.Is(err, container.ErrEmpty) {
		t.Errorf("Create(no proposals) error = %v, want ErrEmpty", err)
	}
	_, err := f.batch.Create(ctx, "alice", container.Mode("best_effort"), "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
	})
	if err == nil {
		t.Error("Create() = nil error for unknown mode")
	}
}

func TestContainer_WaitingMemberHoldsBatchUntilConditionResolves(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	rec := &permission.Record{
		ID:         "p1",
		Target:     res.Ref(),
		ChangeType: change.TypeAddItem,
		Actors:     entity.NewActorSet("carol"),
		Community:  "eng",
		Condition: &condition.Template{
			Type: condition.TypeApproval,
			Eligibility: condition.EligibilitySpec{
				Approve: &condition.Grant{Actors: []string{"dave"}},
			},
		},
	}
	if err := f.permissions.SavePermission(ctx, rec); err != nil {
		t.Fatal(err)
	}

	c, err := f.batch.Create(ctx, "carol", container.ModeAllOrNothing, "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
		{Actor: "carol", Target: res.Ref(), Change: &change.AddItem{ItemName: "Guide"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != container.StatusWaiting {
		t.Fatalf("Status = %v, want waiting on carol's condition", c.Status)
	}

	stored, err := f.resources.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 0 {
		t.Fatal("no member may apply while the batch waits")
	}

	// Find the gating condition through the waiting member.
	members, err := f.actions.ActionsForContainer(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	var condID string
	for _, act := range members {
		if act.Status == action.StatusWaiting {
			condID = act.Resolution.ConditionIDs()[0]
		}
	}
	if condID == "" {
		t.Fatal("no waiting member found")
	}

	// The cascade from the approval retries the container.
	if _, err := f.engine.ActWithChoice(ctx, "dave", condID, condition.ChoiceApprove); err != nil {
		t.Fatal(err)
	}

	settled, err := f.batch.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if settled.Status != container.StatusImplemented {
		t.Fatalf("Status = %v, want implemented after the condition approved: %s", settled.Status, settled.Summary)
	}

	stored, err = f.resources.GetResource(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 2 {
		t.Errorf("items = %d, want both members committed together", len(stored.Items))
	}
}

func TestContainer_RetryOnSettledErrs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	c, err := f.batch.Create(ctx, "alice", container.ModePartialApply, "", []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Intro"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.batch.Retry(ctx, c.ID); !errors.Is(err, container.ErrClosed) {
		t.Errorf("Retry(settled) error = %v, want ErrClosed", err)
	}
}

func TestContainer_TriggerActionRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommunity("eng")
	res := f.seedResource("handbook", "eng")
	ctx := context.Background()

	trigger, err := f.ledger.Submit(ctx, "alice", res.Ref(), &change.AddItem{ItemName: "Cause"})
	if err != nil {
		t.Fatal(err)
	}

	c, err := f.batch.Create(ctx, "alice", container.ModePartialApply, trigger.ID, []Proposal{
		{Actor: "alice", Target: res.Ref(), Change: &change.AddItem{ItemName: "Effect"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.TriggerActionID != trigger.ID {
		t.Errorf("TriggerActionID = %q, want %q", c.TriggerActionID, trigger.ID)
	}
}
