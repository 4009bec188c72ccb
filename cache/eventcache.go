// Package cache implements the event cache: a bounded ring of the most
// recently persisted events, keyed by event id, that readers pull deltas
// from.
package cache

import (
	"context"
	"sync"

	"github.com/sharedcode/accessmgr"
)

// EventCache is an in-memory bounded FIFO of persisted events. Eviction is
// strict FIFO at the configured capacity. Safe for concurrent use.
type EventCache struct {
	mu       sync.RWMutex
	capacity int
	events   []accessmgr.Event
	index    map[accessmgr.UUID]int
	// populated stays false until the first append; it distinguishes
	// EventCacheEmpty from EventNotCached.
	populated bool
	// evictedAny records that at least one event has been evicted, so a
	// miss on the oldest boundary is reported as EventNotCached.
	evictedAny bool
}

// New returns an event cache bounded to capacity events.
func New(capacity int) *EventCache {
	if capacity <= 0 {
		capacity = accessmgr.DefaultOptions().CacheCapacity
	}
	return &EventCache{
		capacity: capacity,
		index:    map[accessmgr.UUID]int{},
	}
}

// AppendBatch appends persisted events in id order, evicting from the front
// past capacity.
func (c *EventCache) AppendBatch(ctx context.Context, events []accessmgr.Event) error {
	if len(events) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.populated = true
	c.events = append(c.events, events...)
	if over := len(c.events) - c.capacity; over > 0 {
		for _, e := range c.events[:over] {
			delete(c.index, e.ID)
		}
		c.events = c.events[over:]
		c.evictedAny = true
	}
	// Rebuild positions; the slice shifted if anything was evicted.
	for i, e := range c.events {
		c.index[e.ID] = i
	}
	return nil
}

// GetAllSince returns the suffix of cached events after priorEventID.
// NilUUID asks for everything retained. Errors: EventCacheEmptyError when
// the cache has never been populated, EventNotCachedError when priorEventID
// is no longer (or was never) retained.
func (c *EventCache) GetAllSince(ctx context.Context, priorEventID accessmgr.UUID) ([]accessmgr.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return nil, accessmgr.NewError(accessmgr.EventCacheEmptyError, "event cache has never been populated")
	}
	if priorEventID.IsNil() {
		if c.evictedAny {
			return nil, accessmgr.NewError(accessmgr.EventNotCachedError, "oldest events already evicted")
		}
		return c.copyFrom(0), nil
	}
	pos, ok := c.index[priorEventID]
	if !ok {
		return nil, accessmgr.NewError(accessmgr.EventNotCachedError, "event not cached", priorEventID.String())
	}
	return c.copyFrom(pos + 1), nil
}

func (c *EventCache) copyFrom(pos int) []accessmgr.Event {
	r := make([]accessmgr.Event, len(c.events)-pos)
	copy(r, c.events[pos:])
	return r
}

// Len returns the number of retained events.
func (c *EventCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}
