// Package buffer implements the temporal event buffer: ten per-category FIFO
// queues in front of the distributor, with validated enqueue, monotonic
// occurredAt assignment and pluggable flush strategies.
package buffer

import (
	"context"
	log "log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/validate"
)

type queued struct {
	event accessmgr.Event
	seq   int64
}

// Buffer validates and stages events per category, then flushes them to the
// distributor sink in global (occurredAt, category-priority) order.
//
// Locking: tsMu covers occurredAt/id assignment and the insertion sequence;
// each category queue has its own mutex, acquired in category-priority order
// when more than one is needed. flushMu serializes flushes; the queue swap
// inside a flush holds all category mutexes in one critical section.
type Buffer struct {
	validator *validate.Validator
	sink      accessmgr.EventSink
	strategy  FlushStrategy

	tsMu           sync.Mutex
	lastOccurredAt time.Time
	seq            int64

	queueMus []sync.Mutex
	queues   [][]queued
	total    atomic.Int64

	flushMu sync.Mutex
	// retained holds the batch of a failed flush for redelivery ahead of the
	// next flush. Guarded by flushMu.
	retained []accessmgr.Event

	// processing is the writer's drain metric: events buffered or mid-flush.
	processing atomic.Int64

	consecutiveFailures int
	maxFailures         int
	onFlushError        func(error)
	trip                *accessmgr.TripSwitch
}

// New wires a buffer to its validator and distributor sink. onFlushError may
// be nil; trip may be nil to disable fail-fast latching. The strategy is
// started immediately with this buffer's Flush.
func New(validator *validate.Validator, sink accessmgr.EventSink, strategy FlushStrategy, onFlushError func(error), trip *accessmgr.TripSwitch) *Buffer {
	b := &Buffer{
		validator:    validator,
		sink:         sink,
		strategy:     strategy,
		queueMus:     make([]sync.Mutex, len(accessmgr.EventKinds)),
		queues:       make([][]queued, len(accessmgr.EventKinds)),
		maxFailures:  3,
		onFlushError: onFlushError,
		trip:         trip,
	}
	strategy.Start(func() {
		if err := b.Flush(context.Background()); err != nil {
			log.Warn("strategy triggered flush failed", "error", err.Error())
		}
	})
	return b
}

// Buffer validates the event, assigns occurredAt and id, and appends it (and
// any cascade prepends) to the category queues. The flush strategy is
// notified with the new total afterwards.
func (b *Buffer) Buffer(event accessmgr.Event) error {
	if b.trip != nil {
		if err := b.trip.Guard(); err != nil {
			return err
		}
	}
	prepends, err := b.validator.Validate(event)
	if err != nil {
		return err
	}
	batch := append(prepends, event)

	b.tsMu.Lock()
	for i := range batch {
		now := accessmgr.Now().UTC().Truncate(accessmgr.TimestampEpsilon)
		if !now.After(b.lastOccurredAt) {
			now = b.lastOccurredAt.Add(accessmgr.TimestampEpsilon)
		}
		b.lastOccurredAt = now
		batch[i].OccurredAt = accessmgr.NewTimestamp(now)
		if batch[i].ID.IsNil() {
			batch[i].ID = accessmgr.NewUUID()
		}
		b.seq++
		b.enqueue(queued{event: batch[i], seq: b.seq})
	}
	b.tsMu.Unlock()

	total := int(b.total.Add(int64(len(batch))))
	b.processing.Add(int64(len(batch)))
	b.strategy.NotifyBuffered(total)
	return nil
}

func (b *Buffer) enqueue(q queued) {
	i := q.event.Kind.Priority()
	b.queueMus[i].Lock()
	b.queues[i] = append(b.queues[i], q)
	b.queueMus[i].Unlock()
}

// Flush swaps all ten queues with empty ones in a single critical section,
// merges the drained events into global (occurredAt, category-priority,
// insertion) order, and hands the batch to the distributor. At most one
// flush runs at a time. On sink failure the batch is retained and
// redelivered ahead of the next flush; maxFailures consecutive failures trip
// the switch.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	// Single critical section across all queues.
	var drained []queued
	for i := range b.queues {
		b.queueMus[i].Lock()
	}
	for i := range b.queues {
		drained = append(drained, b.queues[i]...)
		b.queues[i] = nil
	}
	for i := len(b.queues) - 1; i >= 0; i-- {
		b.queueMus[i].Unlock()
	}
	b.total.Add(int64(-len(drained)))

	sort.Slice(drained, func(i, j int) bool {
		a, c := drained[i], drained[j]
		if !a.event.OccurredAt.Equal(c.event.OccurredAt.Time) {
			return a.event.OccurredAt.Before(c.event.OccurredAt.Time)
		}
		if pa, pc := a.event.Kind.Priority(), c.event.Kind.Priority(); pa != pc {
			return pa < pc
		}
		return a.seq < c.seq
	})

	batch := b.retained
	for _, q := range drained {
		batch = append(batch, q.event)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := b.sink.Process(ctx, batch); err != nil {
		b.retained = batch
		b.consecutiveFailures++
		log.Error("buffer flush failed", "events", len(batch), "failures", b.consecutiveFailures, "error", err.Error())
		flushErr := accessmgr.Error{Code: accessmgr.BufferFlushingError, Err: err}
		if b.onFlushError != nil {
			b.onFlushError(flushErr)
		}
		if b.consecutiveFailures >= b.maxFailures && b.trip != nil {
			b.trip.Trip("persistent buffer flush failure: " + err.Error())
		}
		return flushErr
	}
	b.processing.Add(int64(-len(batch)))
	b.retained = nil
	b.consecutiveFailures = 0
	return nil
}

// Sink returns the current distributor sink.
func (b *Buffer) Sink() accessmgr.EventSink {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.sink
}

// SetSink swaps the distributor sink between flushes. The orchestrator uses
// this to interpose a range router during a split or merge.
func (b *Buffer) SetSink(s accessmgr.EventSink) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.sink = s
}

// ProcessingCount is the writer node's event processing status metric:
// events accepted but not yet successfully distributed.
func (b *Buffer) ProcessingCount() int64 {
	return b.processing.Load()
}

// Stop halts the flush strategy and performs a final flush.
func (b *Buffer) Stop(ctx context.Context) error {
	b.strategy.Stop()
	return b.Flush(ctx)
}
