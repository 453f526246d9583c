// Package panels manages the bounded set of informational overlays the
// narrative generator creates, updates, and dismisses as tool effects.
package panels

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxPanels is the ceiling on live panels per adventure.
const MaxPanels = 5

// ErrCapacityExceeded indicates the live panel ceiling was hit. It is
// recoverable: the session controller surfaces it as a tool-result
// error, never as a connection error.
var ErrCapacityExceeded = errors.New("panel capacity exceeded")

// ErrNotFound indicates no live panel has the given id.
var ErrNotFound = errors.New("panel not found")

// ErrAlreadyExists indicates a create collided with a live panel id.
var ErrAlreadyExists = errors.New("panel id already exists")

// Position is the display zone a panel stacks into.
type Position string

const (
	PositionSidebar Position = "sidebar"
	PositionHeader  Position = "header"
	PositionOverlay Position = "overlay"
)

// Panel is one informational overlay. All fields except Content are
// immutable after creation. X and Y are present iff Position is overlay.
type Panel struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Position   Position  `json:"position"`
	Persistent bool      `json:"persistent"`
	X          *float64  `json:"x,omitempty"`
	Y          *float64  `json:"y,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registry holds the live panel set for one adventure. It is owned by
// the adventure's session controller and needs no internal locking.
type Registry struct {
	panels map[string]Panel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{panels: make(map[string]Panel)}
}

// Create admits a new panel. Field validation (id pattern, size
// ceilings) happens at the protocol codec; the registry enforces only
// uniqueness and capacity.
func (r *Registry) Create(p Panel) error {
	if _, ok := r.panels[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
	}
	if len(r.panels) >= MaxPanels {
		return ErrCapacityExceeded
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.panels[p.ID] = p
	return nil
}

// Update replaces the content of a live panel. All other fields are
// immutable post-creation.
func (r *Registry) Update(id, content string) (Panel, error) {
	p, ok := r.panels[id]
	if !ok {
		return Panel{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Content = content
	r.panels[id] = p
	return p, nil
}

// Dismiss removes a live panel.
func (r *Registry) Dismiss(id string) error {
	if _, ok := r.panels[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.panels, id)
	return nil
}

// Get returns a live panel by id.
func (r *Registry) Get(id string) (Panel, bool) {
	p, ok := r.panels[id]
	return p, ok
}

// Len returns the number of live panels.
func (r *Registry) Len() int {
	return len(r.panels)
}

// List returns the live panels in CreatedAt order, which is also their
// stacking order within each position zone.
func (r *Registry) List() []Panel {
	out := make([]Panel, 0, len(r.panels))
	for _, p := range r.panels {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Restore re-admits persisted panels after a load or reconnect. At most
// MaxPanels are kept, favoring the oldest CreatedAt; overflow is dropped
// silently so a corrupted over-capacity snapshot never crashes a load.
func (r *Registry) Restore(persisted []Panel) {
	r.panels = make(map[string]Panel, MaxPanels)

	sorted := append([]Panel{}, persisted...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for _, p := range sorted {
		if len(r.panels) >= MaxPanels {
			break
		}
		if _, ok := r.panels[p.ID]; ok {
			continue
		}
		r.panels[p.ID] = p
	}
}
