// Package action contains the action record, its lifecycle statuses, and
// the per-action resolution audit trail.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/entity"
)

// Action errors.
var (
	// ErrNotFound is returned when an action id does not exist.
	ErrNotFound = errors.New("action not found")
	// ErrTerminal is returned when resolution is re-entered for an action
	// that already reached a terminal status.
	ErrTerminal = errors.New("action already in a terminal status")
)

// Status is the lifecycle state of an action.
type Status string

const (
	// StatusCreated means the action exists but resolution has not run.
	StatusCreated Status = "created"
	// StatusSent means resolution approved the action but its change has
	// not been applied yet (container members awaiting commit).
	StatusSent Status = "sent"
	// StatusWaiting means the action is suspended on one or more
	// conditions.
	StatusWaiting Status = "waiting"
	// StatusImplemented means the change was applied. Terminal.
	StatusImplemented Status = "implemented"
	// StatusRejected means no authority path approved the action. Terminal.
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status never transitions further.
func (s Status) Terminal() bool {
	return s == StatusImplemented || s == StatusRejected
}

// Action is one proposed, tracked state change submitted by an actor
// against a target. Once terminal it is immutable except for audit
// annotations.
type Action struct {
	ID     string        `json:"id"`
	Actor  string        `json:"actor"`
	Target entity.Ref    `json:"target"`
	Change change.Change `json:"-"`

	Status     Status     `json:"status"`
	Resolution Resolution `json:"resolution"`

	// ContainerID links container members to their batch.
	ContainerID string `json:"container_id,omitempty"`
	// Fingerprint is a stable digest of (actor, target, change) used to
	// detect duplicate proposals inside a container.
	Fingerprint uint64 `json:"fingerprint"`
	// Summary is the human-readable result of the apply step.
	Summary string `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds an action in StatusCreated with its fingerprint computed.
func New(id, actor string, target entity.Ref, ch change.Change, now time.Time) *Action {
	return &Action{
		ID:          id,
		Actor:       actor,
		Target:      target,
		Change:      ch,
		Status:      StatusCreated,
		Fingerprint: Fingerprint(actor, target, ch),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Fingerprint digests an (actor, target, change) triple. The change fields
// are JSON-encoded for determinism.
func Fingerprint(actor string, target entity.Ref, ch change.Change) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(actor)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(target.String())
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ch.Type())
	_, _ = h.Write([]byte{0})
	if fields, err := json.Marshal(ch); err == nil {
		_, _ = h.Write(fields)
	}
	return h.Sum64()
}

// Clone returns a copy safe for concurrent readers. The change descriptor
// is shared: descriptors are immutable after validation.
func (a *Action) Clone() *Action {
	cp := *a
	cp.Resolution = a.Resolution.clone()
	return &cp
}

// Store persists actions.
type Store interface {
	// GetAction returns the action by id, or ErrNotFound.
	GetAction(ctx context.Context, id string) (*Action, error)
	// SaveAction creates or updates an action.
	SaveAction(ctx context.Context, a *Action) error
	// ActionsForContainer returns the members of a container in creation
	// order.
	ActionsForContainer(ctx context.Context, containerID string) ([]*Action, error)
}
