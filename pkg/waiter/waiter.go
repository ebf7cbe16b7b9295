// Package waiter implements §4.5: client subscriptions to container
// lifecycle transitions, with exact-name and wildcard patterns, an
// optional target-state filter, and timeouts. It is grounded on the
// teacher's pkg/events Broker (github.com/cuemby/warren's pub/sub of
// cluster events to subscriber channels) — the same shape, retargeted
// from cluster events to container state transitions and given the
// spec's one-shot-vs-persistent and pattern-matching semantics the
// teacher's broker didn't need.
package waiter

import (
	"path/filepath"
	"sync"

	"github.com/cuemby/portod/pkg/types"
)

// Result is delivered to a waiter on a match or on timeout. State is
// "timeout" and Name is "" for a timeout firing (§4.5).
type Result struct {
	Name  string
	State types.ContainerState
}

// Waiter is one client's subscription.
type Waiter struct {
	ID           uint64
	Patterns     []string // exact names and/or glob patterns
	TargetStates []types.ContainerState
	LabelPattern string
	Async        bool

	mu     sync.Mutex
	fired  bool
	Result chan Result // buffered(1); sync waiters read exactly one value
}

func (w *Waiter) matches(name string, state types.ContainerState) bool {
	if len(w.TargetStates) > 0 {
		ok := false
		for _, s := range w.TargetStates {
			if s == state {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, p := range w.Patterns {
		if p == name {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}

// Registry tracks all active waiters and dispatches container state
// transitions to them.
type Registry struct {
	mu      sync.Mutex
	waiters map[uint64]*Waiter
	nextID  uint64
}

// NewRegistry creates an empty waiter registry.
func NewRegistry() *Registry {
	return &Registry{waiters: make(map[uint64]*Waiter)}
}

// Register adds w to the registry and assigns it an id.
func (r *Registry) Register(w *Waiter) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	w.ID = r.nextID
	if w.Result == nil {
		w.Result = make(chan Result, 1)
	}
	r.waiters[w.ID] = w
	return w.ID
}

// Remove deactivates and removes a waiter explicitly (async waiters are
// removed this way; sync waiters remove themselves on first match).
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, id)
}

// Notify is called on every container lifecycle transition. It fires
// every matching waiter; sync waiters (Async == false) are removed after
// firing once, async waiters persist.
func (r *Registry) Notify(name string, state types.ContainerState) {
	r.mu.Lock()
	var toFire []*Waiter
	for id, w := range r.waiters {
		if !w.matches(name, state) {
			continue
		}
		toFire = append(toFire, w)
		if !w.Async {
			delete(r.waiters, id)
		}
	}
	r.mu.Unlock()

	for _, w := range toFire {
		w.mu.Lock()
		if !w.fired || w.Async {
			select {
			case w.Result <- Result{Name: name, State: state}:
			default:
			}
			w.fired = true
		}
		w.mu.Unlock()
	}
}

// Timeout fires id (if still pending) with an empty name and state
// "timeout", matching §4.5's timeout semantics, then removes it.
func (r *Registry) Timeout(id uint64) {
	r.mu.Lock()
	w, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.Result <- Result{Name: "", State: "timeout"}:
	default:
	}
}

// Count returns the number of active waiters, for diagnostics/dump.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
