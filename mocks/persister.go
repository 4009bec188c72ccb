// Package mocks holds in-memory stand-ins for the persistence and transport
// interfaces, shared by package tests across the module.
package mocks

import (
	"context"
	"sync"

	"github.com/sharedcode/accessmgr"
)

// EventPersister is an in-memory durable event log implementing
// accessmgr.EventPersister with the same ordering and idempotence contract
// as the real backends.
type EventPersister struct {
	// Role decides which event kinds are range-owned for the range
	// read/delete methods; replicas of other roles' kinds are exempt.
	Role accessmgr.Role

	mu     sync.Mutex
	events []accessmgr.Event
	ids    map[accessmgr.UUID]struct{}

	// FailNext makes the next n Persist/Process calls fail.
	FailNext int
	// PersistCalls counts PersistEvents invocations.
	PersistCalls int
}

// NewEventPersister returns an empty in-memory event log for a user-role
// shard; set Role for other roles.
func NewEventPersister() *EventPersister {
	return &EventPersister{Role: accessmgr.UserRole, ids: map[accessmgr.UUID]struct{}{}}
}

// Process implements the distributor sink as an idempotent persist.
func (p *EventPersister) Process(ctx context.Context, events []accessmgr.Event) error {
	return p.PersistEvents(ctx, events, true)
}

func (p *EventPersister) PersistEvents(ctx context.Context, events []accessmgr.Event, ignoreDuplicates bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PersistCalls++
	if p.FailNext > 0 {
		p.FailNext--
		return accessmgr.NewError(accessmgr.Unknown, "induced persist failure")
	}
	for _, e := range events {
		if _, ok := p.ids[e.ID]; ok {
			if ignoreDuplicates {
				continue
			}
			return accessmgr.NewError(accessmgr.ArgumentError, "duplicate event id", e.ID.String())
		}
		p.ids[e.ID] = struct{}{}
		p.events = append(p.events, e)
	}
	return nil
}

func (p *EventPersister) Load(ctx context.Context, target accessmgr.EventApplier, boundary accessmgr.LoadBoundary) (accessmgr.LoadResult, error) {
	p.mu.Lock()
	events := make([]accessmgr.Event, len(p.events))
	copy(events, p.events)
	p.mu.Unlock()

	var r accessmgr.LoadResult
	for _, e := range events {
		if boundary.UpToTimestamp != nil && e.OccurredAt.After(*boundary.UpToTimestamp) {
			break
		}
		if err := target.ApplyEvent(e); err != nil {
			return r, err
		}
		r.LastEventID = e.ID
		r.LastEventAt = e.OccurredAt
		r.Count++
		if boundary.UpToEventID != nil && e.ID.Compare(*boundary.UpToEventID) == 0 {
			break
		}
	}
	if r.Count == 0 {
		return r, accessmgr.NewError(accessmgr.PersistentStorageEmptyError, "no persisted events at boundary")
	}
	return r, nil
}

func (p *EventPersister) ReadEventsRange(ctx context.Context, lo, hi int32, afterID accessmgr.UUID, limit int) ([]accessmgr.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var r []accessmgr.Event
	started := afterID.IsNil()
	for _, e := range p.events {
		if !started {
			if e.ID.Compare(afterID) == 0 {
				started = true
			}
			continue
		}
		if !p.inRange(e, lo, hi) {
			continue
		}
		r = append(r, e)
		if limit > 0 && len(r) >= limit {
			break
		}
	}
	return r, nil
}

func (p *EventPersister) DeleteEventsRange(ctx context.Context, lo, hi int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kept []accessmgr.Event
	for _, e := range p.events {
		// Replicated kinds are range-independent, never deleted by range.
		if e.RangeOwned(p.Role) && e.HashCode >= lo && e.HashCode <= hi {
			delete(p.ids, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	p.events = kept
	return nil
}

// Events returns a copy of the persisted log in order.
func (p *EventPersister) Events() []accessmgr.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := make([]accessmgr.Event, len(p.events))
	copy(r, p.events)
	return r
}

// Count returns the persisted event count.
func (p *EventPersister) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// inRange reports whether the event qualifies for a range read: range-owned
// events by hash, replicated kinds unconditionally (the target shard needs
// them for referential checks).
func (p *EventPersister) inRange(e accessmgr.Event, lo, hi int32) bool {
	if !e.RangeOwned(p.Role) {
		return true
	}
	return e.HashCode >= lo && e.HashCode <= hi
}
