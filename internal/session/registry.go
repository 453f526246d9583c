// Package session implements the per-adventure session controller and
// the process-wide connection registry. One controller owns exactly one
// adventure's live state; all mutation happens on that controller's
// event loop, so concurrency exists only across adventures.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"questweaver/server/internal/assets"
	"questweaver/server/internal/engine"
	"questweaver/server/internal/storage"
)

// Conn is the transport seen by a controller: an outbound frame sink.
// The web layer implements it over a WebSocket with a write pump.
type Conn interface {
	// Send enqueues one outbound frame. It reports false when the
	// connection is closed or its buffer is full.
	Send(data []byte) bool
	Close()
}

// Deps are the collaborators shared by all controllers.
type Deps struct {
	Store      storage.Store
	Generator  engine.Generator
	Summarizer engine.Summarizer
	Themes     assets.BackgroundProvider
	Redis      *storage.RedisStore
}

// Options tune session behavior.
type Options struct {
	MaxConnections    int
	ReconnectGrace    time.Duration
	GenerationTimeout time.Duration
	KeepTail          int
	TurnLimit         int
	TurnWindow        time.Duration
}

// Registry maps adventure ids to live controllers. It is the one piece
// of truly shared mutable state in the process; individual adventure
// state needs no cross-adventure locking.
type Registry struct {
	deps Deps
	opts Options

	mu          sync.Mutex
	controllers map[string]*Controller

	live *atomic.Int64
}

func NewRegistry(deps Deps, opts Options) *Registry {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 256
	}
	if opts.ReconnectGrace <= 0 {
		opts.ReconnectGrace = 2 * time.Minute
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 90 * time.Second
	}
	return &Registry{
		deps:        deps,
		opts:        opts,
		controllers: make(map[string]*Controller),
		live:        atomic.NewInt64(0),
	}
}

// AcquireSlot claims a connection slot against the process ceiling. It
// is checked at the transport layer before the WebSocket upgrade, so
// over-ceiling requests never reach authentication.
func (r *Registry) AcquireSlot() bool {
	if r.live.Inc() > int64(r.opts.MaxConnections) {
		r.live.Dec()
		return false
	}
	return true
}

// ReleaseSlot returns a slot claimed by AcquireSlot.
func (r *Registry) ReleaseSlot() {
	r.live.Dec()
}

// LiveConnections reports the current claimed slot count.
func (r *Registry) LiveConnections() int64 {
	return r.live.Load()
}

// Connect routes a new transport to the adventure's controller,
// reattaching to a live one when it exists (idempotent reconnection) or
// creating a fresh controller that hydrates from the store. An empty
// adventureID yields an unbound controller awaiting start_adventure.
func (r *Registry) Connect(adventureID string, conn Conn) *Controller {
	r.mu.Lock()
	if adventureID != "" {
		if ctrl, ok := r.controllers[adventureID]; ok {
			r.mu.Unlock()
			ctrl.Attach(conn)
			return ctrl
		}
	}

	ctrl := newController(adventureID, r)
	if adventureID != "" {
		r.controllers[adventureID] = ctrl
	}
	r.mu.Unlock()

	go ctrl.run()
	ctrl.Attach(conn)
	return ctrl
}

// bind registers a controller under an adventure id chosen after
// connect (the start_adventure path).
func (r *Registry) bind(adventureID string, ctrl *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[adventureID] = ctrl
}

// remove drops a controller if it is still the registered one.
func (r *Registry) remove(adventureID string, ctrl *Controller) {
	if adventureID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.controllers[adventureID]; ok && current == ctrl {
		delete(r.controllers, adventureID)
	}
}

// Count reports the number of live controllers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Shutdown closes every live controller, letting each persist its
// state, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		controllers = append(controllers, ctrl)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, ctrl := range controllers {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Shutdown()
			select {
			case <-c.Done():
			case <-ctx.Done():
			}
		}(ctrl)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[Registry] Shutdown timed out with %d controllers still closing", len(controllers))
	}
}
