// Package concurrency is the process-wide concurrency group registry.
//
// A group key (for example "deploy-main") admits at most one active run at a
// time. A run claiming an occupied key either queues behind the occupant, or
// supersedes it: the caller then cancels the occupant and every queued
// waiter, and inherits the slot once the occupant releases it.
//
//	Claim(k, r1)        -> admitted
//	Claim(k, r2)        -> queued behind r1
//	Claim(k, r3, true)  -> r2 superseded, r3 next in line, r1 to be cancelled
//	Release(k, r1)      -> r3 becomes active (Ready closes)
//
// All state lives behind one mutex since keys are shared across runs.
package concurrency

import (
	"sync"
)

// Claim is the answer to a slot request.
type Claim struct {
	// Admitted is true when the run holds the slot right away.
	Admitted bool
	// Occupant is the run holding the slot when the claim was not admitted.
	Occupant string
	// Superseded lists queued runs evicted by a superseding claim. The caller
	// is responsible for cancelling them.
	Superseded []string
	// Ready is closed once the run holds the slot.
	Ready <-chan struct{}
}

type waiter struct {
	runID string
	ready chan struct{}
}

type group struct {
	active string
	queue  []*waiter
}

// Registry maps group keys to their active and queued runs.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{groups: make(map[string]*group)}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Claim requests the slot for key on behalf of runID. With supersede set,
// every queued waiter is evicted and runID becomes the next in line.
func (r *Registry) Claim(key, runID string, supersede bool) Claim {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[key]
	if !ok || g.active == "" {
		if !ok {
			g = &group{}
			r.groups[key] = g
		}
		g.active = runID
		return Claim{Admitted: true, Ready: closedChan()}
	}

	w := &waiter{runID: runID, ready: make(chan struct{})}
	claim := Claim{Occupant: g.active, Ready: w.ready}
	if supersede {
		for _, q := range g.queue {
			claim.Superseded = append(claim.Superseded, q.runID)
		}
		g.queue = nil
	}
	g.queue = append(g.queue, w)
	return claim
}

// Release gives up runID's hold on key. If runID is active the slot passes
// to the next waiter; if it is still queued it simply leaves the queue.
// It reports whether runID was found.
func (r *Registry) Release(key, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[key]
	if !ok {
		return false
	}
	if g.active == runID {
		g.active = ""
		r.handOver(key, g)
		return true
	}
	for i, w := range g.queue {
		if w.runID == runID {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			r.cleanup(key, g)
			return true
		}
	}
	return false
}

// Promote forces runID into the slot regardless of the current occupant.
// It is used when an occupant does not drain within the cancellation timeout.
// Only a run still queued for key, or already holding it, can be promoted;
// Promote reports whether runID holds the slot afterwards.
func (r *Registry) Promote(key, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[key]
	if !ok {
		return false
	}
	if g.active == runID {
		return true
	}
	for i, w := range g.queue {
		if w.runID == runID {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			close(w.ready)
			g.active = runID
			return true
		}
	}
	return false
}

// Active returns the run holding key, if any.
func (r *Registry) Active(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key]
	if !ok || g.active == "" {
		return "", false
	}
	return g.active, true
}

// Queued returns the runs waiting for key, in hand-over order.
func (r *Registry) Queued(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.queue))
	for _, w := range g.queue {
		out = append(out, w.runID)
	}
	return out
}

func (r *Registry) handOver(key string, g *group) {
	if len(g.queue) == 0 {
		r.cleanup(key, g)
		return
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	g.active = next.runID
	close(next.ready)
}

func (r *Registry) cleanup(key string, g *group) {
	if g.active == "" && len(g.queue) == 0 {
		delete(r.groups, key)
	}
}
