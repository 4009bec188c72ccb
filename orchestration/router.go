// Package orchestration drives the shard split and merge protocols: it
// interposes a pause-buffer router in front of the source writer's persist
// chain, drains and copies the moving hash range in batches, cuts the
// configuration over, and cleans up the source.
package orchestration

import (
	"context"
	"sync"

	"github.com/sharedcode/accessmgr"
)

// Router sits between a writer's buffer and its persist chain while a range
// is being moved. Events owned by the moving range are held; everything else
// passes through. Release hands the held events to the range's new home,
// Abort returns them to the original chain.
type Router struct {
	role       accessmgr.Role
	lo, hi     int32
	downstream accessmgr.EventSink

	mu       sync.Mutex
	held     []accessmgr.Event
	resolved bool
}

// NewRouter builds a router holding [lo, hi] for the role, passing the rest
// to downstream.
func NewRouter(role accessmgr.Role, lo, hi int32, downstream accessmgr.EventSink) *Router {
	return &Router{role: role, lo: lo, hi: hi, downstream: downstream}
}

// Process implements accessmgr.EventSink. The batch is partitioned in order;
// held events keep their relative order for the eventual release.
func (r *Router) Process(ctx context.Context, events []accessmgr.Event) error {
	var pass []accessmgr.Event
	r.mu.Lock()
	for _, e := range events {
		if !r.resolved && r.holds(e) {
			r.held = append(r.held, e)
			continue
		}
		pass = append(pass, e)
	}
	r.mu.Unlock()
	if len(pass) == 0 {
		return nil
	}
	return r.downstream.Process(ctx, pass)
}

// holds reports whether the event belongs to the moving range. Replicated
// kinds are never held; both sides of the move store them.
func (r *Router) holds(e accessmgr.Event) bool {
	return e.RangeOwned(r.role) && e.HashCode >= r.lo && e.HashCode <= r.hi
}

// HeldCount returns the number of events currently paused.
func (r *Router) HeldCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Release delivers the held events to target and stops holding: in-range
// events arriving afterwards pass straight through downstream (the writer is
// removed from the in-range routing path at cutover, this is a guard against
// stragglers).
func (r *Router) Release(ctx context.Context, target accessmgr.EventSink) error {
	r.mu.Lock()
	held := r.held
	r.held = nil
	r.resolved = true
	r.mu.Unlock()
	if len(held) == 0 {
		return nil
	}
	return target.Process(ctx, held)
}

// Abort returns the held events to the original chain, in order, and stops
// holding. Used when a split is rolled back.
func (r *Router) Abort(ctx context.Context) error {
	return r.Release(ctx, r.downstream)
}
