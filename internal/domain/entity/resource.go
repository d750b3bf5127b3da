package entity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resource store errors.
var (
	// ErrResourceNotFound is returned when a resource id does not exist.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrItemNotFound is returned when an item id does not exist on a resource.
	ErrItemNotFound = errors.New("item not found")
)

// Resource is a governed collection of items. It is the simplest concrete
// permissionable entity and the usual target of specific permissions in
// tests and seeds.
type Resource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Community string    `json:"community"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"created_at"`

	// Foundational mirrors the per-target foundational-override flag:
	// when set, every change to this resource requires owner authority.
	Foundational bool `json:"foundational_override"`
	// Governing enables the governing tier for this resource. On by default.
	Governing bool `json:"governing_enabled"`
}

// Item is a single entry inside a resource.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

// Ref implements Permissionable.
func (r *Resource) Ref() Ref {
	return Ref{Kind: KindResource, ID: r.ID}
}

// OwnerCommunity implements Permissionable.
func (r *Resource) OwnerCommunity() string {
	return r.Community
}

// FoundationalOverride implements Permissionable.
func (r *Resource) FoundationalOverride() bool {
	return r.Foundational
}

// GoverningEnabled implements Permissionable.
func (r *Resource) GoverningEnabled() bool {
	return r.Governing
}

// Clone returns a deep copy safe for concurrent readers.
func (r *Resource) Clone() *Resource {
	cp := *r
	cp.Items = append([]Item(nil), r.Items...)
	return &cp
}

// AddItem appends an item. Returns an error if the id is already present.
func (r *Resource) AddItem(item Item) error {
	for _, existing := range r.Items {
		if existing.ID == item.ID {
			return fmt.Errorf("item %q already on resource %q", item.ID, r.ID)
		}
	}
	r.Items = append(r.Items, item)
	return nil
}

// RemoveItem deletes the item with the given id.
func (r *Resource) RemoveItem(itemID string) error {
	for i, item := range r.Items {
		if item.ID == itemID {
			r.Items = append(r.Items[:i], r.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q on resource %q", ErrItemNotFound, itemID, r.ID)
}

// Item returns the item with the given id, if present.
func (r *Resource) Item(itemID string) (Item, bool) {
	for _, item := range r.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return Item{}, false
}

// ItemNames returns the names of all items in order.
func (r *Resource) ItemNames() []string {
	names := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		names = append(names, item.Name)
	}
	return names
}

// ResourceStore persists resources.
type ResourceStore interface {
	// GetResource returns the resource by id, or ErrResourceNotFound.
	GetResource(ctx context.Context, id string) (*Resource, error)
	// SaveResource creates or updates a resource.
	SaveResource(ctx context.Context, r *Resource) error
	// DeleteResource removes a resource by id, or ErrResourceNotFound.
	DeleteResource(ctx context.Context, id string) error
}
