package stream

import (
	"errors"
	"sync"
	"time"
)

// ErrRunExists is returned by Register when the run ID is already registered.
var ErrRunExists = errors.New("stream: run already registered")

// Registry maps run IDs to their live output channels.
//
// The registry is process-local and in-memory. Entries are inserted when a
// run starts and removed after the run's channel closes and its readers have
// drained (see Release). Nothing survives a process restart: a run ledger row
// may still exist for a run whose channel is gone, and lookups for it report
// not-found.
//
// Registry is safe for concurrent use. Lookups take a read lock; register and
// unregister take the write lock.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*entry

	observe func(active int)
}

type entry struct {
	ch    *Channel
	timer *time.Timer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runs: make(map[string]*entry),
	}
}

// Observe installs fn to be called with the number of registered runs after
// every change. Used to feed the active streams gauge.
func (r *Registry) Observe(fn func(active int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observe = fn
}

// Register adds ch under runID. It must be called before the run's first
// step executes so readers can attach from the very first chunk.
func (r *Registry) Register(runID string, ch *Channel) error {
	r.mu.Lock()
	if _, exists := r.runs[runID]; exists {
		r.mu.Unlock()
		return ErrRunExists
	}
	r.runs[runID] = &entry{ch: ch}
	n, fn := len(r.runs), r.observe
	r.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return nil
}

// Lookup returns the channel for runID. The boolean is false for runs that
// were never registered and for runs that have already been cleaned up.
func (r *Registry) Lookup(runID string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

// Attach looks up runID and subscribes from offset from in one step, so the
// run cannot be released between the lookup and the subscription.
func (r *Registry) Attach(runID string, from int64) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	return e.ch.Subscribe(from), true
}

// Unregister removes runID. Unknown IDs are ignored.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()
	e, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.runs, runID)
	n, fn := len(r.runs), r.observe
	r.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

// Release schedules removal of a run whose channel has been closed.
//
// With no subscriber attached the run is unregistered immediately. Otherwise
// it stays registered until the last subscriber detaches or grace elapses,
// whichever comes first, so slow readers can finish draining.
func (r *Registry) Release(runID string, grace time.Duration) {
	r.mu.Lock()
	e, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	ch := e.ch
	r.mu.Unlock()

	// Install the hook before counting so a reader that detaches in between
	// still triggers cleanup.
	ch.setDetachHook(func(remaining int) {
		if remaining == 0 {
			r.Unregister(runID)
		}
	})

	if ch.Subscribers() == 0 || grace <= 0 {
		r.Unregister(runID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[runID]; ok && e.timer == nil {
		e.timer = time.AfterFunc(grace, func() { r.Unregister(runID) })
	}
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
