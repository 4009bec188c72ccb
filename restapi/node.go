// Package restapi exposes the HTTP surface of the system's nodes: writer
// ingress and status, reader queries and cache pulls, and on the
// coordinator the management and convenience routes.
package restapi

import (
	"context"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/buffer"
	"github.com/sharedcode/accessmgr/validate"
)

// cacheSink adapts an EventCache to the flush sink chain.
type cacheSink struct {
	cache accessmgr.EventCache
}

func (s cacheSink) Process(ctx context.Context, events []accessmgr.Event) error {
	return s.cache.AppendBatch(ctx, events)
}

// WriterNode is one shard group's write side: validating buffer in front of
// the durable log and the event cache. It satisfies
// orchestration.WriterControl so the orchestrator can interpose its range
// router.
type WriterNode struct {
	buf       *buffer.Buffer
	persister accessmgr.EventPersister
	cache     accessmgr.EventCache
	trip      *accessmgr.TripSwitch
}

// NewWriterNode wires the node: flushed batches persist first, then land in
// the cache for the readers. The validator's shadow store is primed from the
// durable log, so a node standing up over existing state (restart, split
// target) validates against what is already persisted.
func NewWriterNode(ctx context.Context, persister accessmgr.EventPersister, cache accessmgr.EventCache, opts accessmgr.Options, onFlushError func(error)) (*WriterNode, error) {
	opts = opts.FillDefaults()
	trip := &accessmgr.TripSwitch{}
	strategy := &buffer.Hybrid{
		Size: buffer.SizeLimited{Limit: opts.BufferSizeLimit},
		Loop: buffer.Looping{Interval: opts.BufferFlushInterval},
	}
	v := validate.New()
	if _, err := persister.Load(ctx, v.Shadow(), accessmgr.LoadBoundary{}); err != nil &&
		accessmgr.CodeOf(err) != accessmgr.PersistentStorageEmptyError {
		return nil, err
	}
	sink := buffer.NewDistributor(persister, cacheSink{cache})
	buf := buffer.New(v, sink, strategy, onFlushError, trip)
	return &WriterNode{buf: buf, persister: persister, cache: cache, trip: trip}, nil
}

// Buffer admits one event into the node.
func (n *WriterNode) Buffer(e accessmgr.Event) error {
	return n.buf.Buffer(e)
}

// Flush forces a flush; used by tests and graceful shutdown.
func (n *WriterNode) Flush(ctx context.Context) error {
	return n.buf.Flush(ctx)
}

// Stop halts the flush strategy with a final flush.
func (n *WriterNode) Stop(ctx context.Context) error {
	return n.buf.Stop(ctx)
}

// Trip exposes the node's fail-fast switch.
func (n *WriterNode) Trip() *accessmgr.TripSwitch {
	return n.trip
}

// Cache exposes the node's event cache for the events-since route.
func (n *WriterNode) Cache() accessmgr.EventCache {
	return n.cache
}

func (n *WriterNode) Persister() accessmgr.EventPersister {
	return n.persister
}

func (n *WriterNode) Sink() accessmgr.EventSink {
	return n.buf.Sink()
}

func (n *WriterNode) SetSink(s accessmgr.EventSink) {
	n.buf.SetSink(s)
}

func (n *WriterNode) ProcessingCount(ctx context.Context) (int64, error) {
	return n.buf.ProcessingCount(), nil
}
