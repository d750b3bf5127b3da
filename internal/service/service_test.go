package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agora-works/agora/internal/adapter/outbound/memory"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture wires the full service stack over in-memory stores with a
// deterministic clock and id sequence.
type fixture struct {
	t *testing.T

	resources   *memory.ResourceStore
	communities *memory.CommunityStore
	permissions *memory.PermissionStore
	condStore   *memory.ConditionStore
	actions     *memory.ActionStore
	containers  *memory.ContainerStore

	now     time.Time
	metrics *Metrics

	roles      *RoleService
	conditions *ConditionService
	resolver   *Resolver
	ledger     *Ledger
	batch      *ContainerService
	engine     *Engine
}

// stubEvaluator answers automated role predicates from a fixed table keyed
// by expression.
type stubEvaluator struct {
	results map[string]bool
	err     error
}

func (s stubEvaluator) EvaluateRole(_ context.Context, expr, _ string, _ map[string]any) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.results[expr], nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:           t,
		resources:   memory.NewResourceStore(),
		communities: memory.NewCommunityStore(),
		permissions: memory.NewPermissionStore(),
		condStore:   memory.NewConditionStore(),
		actions:     memory.NewActionStore(),
		containers:  memory.NewContainerStore(),
		now:         t0,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := NewMetrics(prometheus.NewRegistry())
	f.metrics = metrics
	registry := change.DefaultRegistry()
	condRegistry := condition.Default()

	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	nowFn := func() time.Time { return f.now }

	env := change.Env{
		Resources:      f.resources,
		Communities:    f.communities,
		Permissions:    f.permissions,
		Conditions:     f.condStore,
		ConditionTypes: condRegistry,
		NewID:          newID,
		Now:            nowFn,
	}

	f.roles = NewRoleService(f.communities, stubEvaluator{}, memory.NewActorDirectory(), logger)
	f.conditions = NewConditionService(f.condStore, f.permissions, condRegistry, newID, nowFn, logger)
	f.resolver = NewResolver(f.communities, f.permissions, f.roles, f.conditions, registry, metrics, logger)
	graph := NewEntityGraph(f.resources, f.communities, f.permissions, f.condStore)
	f.ledger = NewLedger(f.actions, graph, f.resolver, env, metrics, logger)
	f.batch = NewContainerService(f.containers, f.actions, f.ledger, graph, env, metrics, logger)
	f.engine = NewEngine(f.ledger, f.batch, f.condStore, registry, logger)
	return f
}

// seedCommunity stores a community with alice as creator, owner, and
// governor.
func (f *fixture) seedCommunity(id string) *community.Community {
	f.t.Helper()
	com := community.New(id, id, "alice", f.now)
	if err := f.communities.SaveCommunity(context.Background(), com); err != nil {
		f.t.Fatal(err)
	}
	return com
}

// seedResource stores a resource owned by the given community.
func (f *fixture) seedResource(id, communityID string) *entity.Resource {
	f.t.Helper()
	res := &entity.Resource{
		ID:        id,
		Name:      id,
		Creator:   "alice",
		Community: communityID,
		CreatedAt: f.now,
		Governing: true,
	}
	if err := f.resources.SaveResource(context.Background(), res); err != nil {
		f.t.Fatal(err)
	}
	return res
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}
