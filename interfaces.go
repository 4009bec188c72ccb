package accessmgr

import (
	"context"
	"time"
)

// EventSink receives an ordered, flushed batch of events. The buffer's
// distributor, the persisters and the event caches all present this surface
// so they can be chained.
type EventSink interface {
	// Process consumes the batch in order. An error means the whole batch is
	// to be retried; implementations must tolerate redelivery.
	Process(ctx context.Context, events []Event) error
}

// EventApplier is the non-validating fast path into an authorization store,
// used for reader refresh and load-from-storage replay.
type EventApplier interface {
	ApplyEvent(event Event) error
}

// LoadBoundary selects how far Load replays the persisted event log.
// Zero value means latest.
type LoadBoundary struct {
	// UpToEventID stops replay after this event id, when non-nil.
	UpToEventID *UUID
	// UpToTimestamp stops replay at the last event at or before this time,
	// when non-nil.
	UpToTimestamp *time.Time
}

// LoadResult reports the boundary the replay actually reached.
type LoadResult struct {
	LastEventID UUID
	LastEventAt Timestamp
	Count       int
}

// EventPersister is the durable event log of one shard group.
type EventPersister interface {
	EventSink

	// PersistEvents writes the batch within one storage transaction, in
	// order. With ignoreDuplicates, events whose id is already persisted are
	// filtered out, making a re-flush idempotent.
	PersistEvents(ctx context.Context, events []Event, ignoreDuplicates bool) error

	// Load replays persisted events into target up to the boundary.
	// Returns PersistentStorageEmptyError when nothing qualifies.
	Load(ctx context.Context, target EventApplier, boundary LoadBoundary) (LoadResult, error)

	// ReadEventsRange returns up to limit persisted events in id order whose
	// hashCode lies in [lo, hi], starting after afterID (NilUUID for the
	// beginning). Replicated kinds (broadcast or owned by another role) are
	// range-independent and always qualify.
	ReadEventsRange(ctx context.Context, lo, hi int32, afterID UUID, limit int) ([]Event, error)

	// DeleteEventsRange removes persisted events whose hashCode lies in
	// [lo, hi]. Range-independent events are kept.
	DeleteEventsRange(ctx context.Context, lo, hi int32) error
}

// EventCache is the bounded ring of recently persisted events readers pull
// from.
type EventCache interface {
	// AppendBatch appends events in id order.
	AppendBatch(ctx context.Context, events []Event) error

	// GetAllSince returns the suffix of cached events after priorEventID.
	// Errors: EventNotCachedError when priorEventID is older than the oldest
	// retained event, EventCacheEmptyError when never populated.
	GetAllSince(ctx context.Context, priorEventID UUID) ([]Event, error)
}
