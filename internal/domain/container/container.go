// Package container groups related actions so they can be resolved and
// applied as a batch.
package container

import (
	"context"
	"errors"
	"time"
)

// Container errors.
var (
	// ErrNotFound is returned when a container id does not exist.
	ErrNotFound = errors.New("container not found")
	// ErrEmpty is returned when a container is created with no proposals.
	ErrEmpty = errors.New("container has no member actions")
	// ErrClosed is returned when retry is invoked on a settled container.
	ErrClosed = errors.New("container already settled")
)

// Mode controls how member outcomes combine.
type Mode string

const (
	// ModePartialApply commits every approved member even when siblings
	// are rejected.
	ModePartialApply Mode = "partial_apply"
	// ModeAllOrNothing commits members only once every member is
	// approved. One rejection rejects the whole batch.
	ModeAllOrNothing Mode = "all_or_nothing"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModePartialApply || m == ModeAllOrNothing
}

// Status is the batch-level outcome, derived from member statuses. It
// shares the action state space.
type Status string

const (
	// StatusWaiting means at least one member is suspended on a condition.
	StatusWaiting Status = "waiting"
	// StatusImplemented means the batch committed. Terminal.
	StatusImplemented Status = "implemented"
	// StatusRejected means the batch settled without committing. Terminal.
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status never transitions further.
func (s Status) Terminal() bool {
	return s == StatusImplemented || s == StatusRejected
}

// Container is an ordered batch of actions submitted together.
type Container struct {
	ID        string   `json:"id"`
	Actor     string   `json:"actor"`
	Mode      Mode     `json:"mode"`
	Status    Status   `json:"status"`
	ActionIDs []string `json:"action_ids"`

	// TriggerActionID references the action that caused the batch to be
	// proposed, when one exists.
	TriggerActionID string `json:"trigger_action_id,omitempty"`

	// Summary describes the settled outcome.
	Summary string `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy safe for concurrent readers.
func (c *Container) Clone() *Container {
	cp := *c
	cp.ActionIDs = append([]string(nil), c.ActionIDs...)
	return &cp
}

// Store persists containers.
type Store interface {
	// GetContainer returns the container by id, or ErrNotFound.
	GetContainer(ctx context.Context, id string) (*Container, error)
	// SaveContainer creates or updates a container.
	SaveContainer(ctx context.Context, c *Container) error
}
