package orchestration

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	log "log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

// WriterControl is the orchestrator's hook into one shard group's writer
// node: its durable log, its persist chain (for router interposition) and
// its buffer drain metric.
type WriterControl interface {
	Persister() accessmgr.EventPersister
	// Sink returns the persist chain flushed batches go into.
	Sink() accessmgr.EventSink
	// SetSink swaps the persist chain, used to interpose and remove a Router.
	SetSink(s accessmgr.EventSink)
	// ProcessingCount reports events buffered but not yet persisted.
	ProcessingCount(ctx context.Context) (int64, error)
}

// Provisioner creates and tears down shard group resources: storage
// instance, writer and readers.
type Provisioner interface {
	Provision(ctx context.Context, g shard.Group) (WriterControl, error)
	Teardown(ctx context.Context, g shard.Group) error
}

// ConfigPublisher persists a new configuration generation and pushes it to
// the routing clients. Publishing is the cutover point.
type ConfigPublisher func(ctx context.Context, cfg *shard.Configuration) error

// Orchestrator runs shard group lifecycle: bootstrap, split, merge, delete.
// One protocol runs at a time.
type Orchestrator struct {
	provisioner Provisioner
	publish     ConfigPublisher

	mu     sync.Mutex
	config *shard.Configuration
	nodes  map[string]WriterControl

	// CopyBatchSize bounds one ReadEventsRange page during copy.
	CopyBatchSize int
	// DrainTimeout bounds the wait for the source buffer to empty;
	// exceeding it aborts and rolls the protocol back.
	DrainTimeout time.Duration
	// DrainPoll is the processing-count polling period.
	DrainPoll time.Duration
}

// SplitResult reports a completed split.
type SplitResult struct {
	EventsCopied int
	Generation   int64
}

// MergeResult reports a completed merge. DuplicatesDropped counts source
// events the target already held by id, typically replicated kinds both
// sides persisted. InvalidEventsDropped counts primary-element events that
// collide with the merged state under a different id, the expected outcome
// when two ranges that each saw "add user X" are joined.
type MergeResult struct {
	EventsCopied         int
	DuplicatesDropped    int
	InvalidEventsDropped int
	Generation           int64
}

// New builds an orchestrator over the current configuration.
func New(config *shard.Configuration, provisioner Provisioner, publish ConfigPublisher) *Orchestrator {
	return &Orchestrator{
		provisioner:   provisioner,
		publish:       publish,
		config:        config,
		nodes:         map[string]WriterControl{},
		CopyBatchSize: 500,
		DrainTimeout:  30 * time.Second,
		DrainPoll:     100 * time.Millisecond,
	}
}

// Configuration returns the current configuration.
func (o *Orchestrator) Configuration() *shard.Configuration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config
}

// RegisterWriter attaches the control surface of an already running writer,
// keyed by its endpoint.
func (o *Orchestrator) RegisterWriter(endpoint string, w WriterControl) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nodes[endpoint] = w
}

func (o *Orchestrator) writer(endpoint string) (WriterControl, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.nodes[endpoint]
	if !ok {
		return nil, accessmgr.NewError(accessmgr.NotFoundError, "no registered writer", endpoint)
	}
	return w, nil
}

// Bootstrap provisions a shard group into an unowned part of the hash space
// and publishes the new configuration. Used to stand the initial groups up.
func (o *Orchestrator) Bootstrap(ctx context.Context, g shard.Group) error {
	w, err := o.provisioner.Provision(ctx, g)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.nodes[g.WriterEndpoint] = w
	next := o.config.WithGroup(g)
	o.mu.Unlock()
	if err := next.Validate(); err != nil {
		return err
	}
	return o.install(ctx, next)
}

// DeleteGroup removes a shard group whose data has already been moved away
// and tears its resources down.
func (o *Orchestrator) DeleteGroup(ctx context.Context, role shard.Role, hashRangeStart int32) error {
	o.mu.Lock()
	var found *shard.Group
	for _, g := range o.config.GroupsOf(role) {
		if g.HashRangeStart == hashRangeStart {
			gg := g
			found = &gg
			break
		}
	}
	o.mu.Unlock()
	if found == nil {
		return accessmgr.NewError(accessmgr.NotFoundError, "no shard group at range start", string(role))
	}
	if err := o.install(ctx, o.Configuration().WithoutGroup(role, hashRangeStart)); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.nodes, found.WriterEndpoint)
	o.mu.Unlock()
	return o.provisioner.Teardown(ctx, *found)
}

// install publishes cfg and, on success, makes it current.
func (o *Orchestrator) install(ctx context.Context, cfg *shard.Configuration) error {
	if err := o.publish(ctx, cfg); err != nil {
		return err
	}
	o.mu.Lock()
	o.config = cfg
	o.mu.Unlock()
	return nil
}

// Split moves the upper part of source's hash range onto the new group
// target: provision, interpose a router, drain, copy in batches, cut the
// configuration over, release the router into the target and delete the
// moved range from the source. A drain timeout rolls everything back.
func (o *Orchestrator) Split(ctx context.Context, source, target shard.Group) (SplitResult, error) {
	cfg := o.Configuration()
	if err := o.validateSplit(cfg, source, target); err != nil {
		return SplitResult{}, err
	}
	src, err := o.writer(source.WriterEndpoint)
	if err != nil {
		return SplitResult{}, err
	}

	// Reuse an already provisioned target on a retried split.
	tgt, err := o.writer(target.WriterEndpoint)
	if err != nil {
		tgt, err = o.provisioner.Provision(ctx, target)
		if err != nil {
			return SplitResult{}, err
		}
		o.RegisterWriter(target.WriterEndpoint, tgt)
	}

	lo, hi := target.HashRangeStart, cfg.RangeEnd(source)
	downstream := src.Sink()
	router := NewRouter(source.Role, lo, hi, downstream)
	src.SetSink(router)
	log.Info("split started", "role", source.Role, "source", source.Name, "target", target.Name, "lo", lo, "hi", hi)

	rollback := func(cause error) (SplitResult, error) {
		if err := router.Abort(ctx); err != nil {
			log.Error("split rollback: releasing held events failed", "error", err)
		}
		src.SetSink(downstream)
		if err := o.provisioner.Teardown(ctx, target); err != nil {
			log.Error("split rollback: target teardown failed", "error", err)
		}
		o.mu.Lock()
		delete(o.nodes, target.WriterEndpoint)
		o.mu.Unlock()
		return SplitResult{}, cause
	}

	if err := o.drain(ctx, src); err != nil {
		return rollback(err)
	}

	copied, cursor, err := o.copyRange(ctx, src.Persister(), tgt.Persister(), lo, hi, accessmgr.NilUUID, nil)
	if err != nil {
		return rollback(err)
	}

	// Cutover: from here the client routes in-range events to the target.
	next := cfg.WithGroup(target)
	if err := o.install(ctx, next); err != nil {
		return rollback(err)
	}

	// Catch-up: replicated events persisted on the source during the copy.
	caught, _, err := o.copyRange(ctx, src.Persister(), tgt.Persister(), lo, hi, cursor, nil)
	if err != nil {
		return SplitResult{}, err
	}
	if err := router.Release(ctx, tgt.Sink()); err != nil {
		return SplitResult{}, err
	}
	src.SetSink(downstream)

	if err := src.Persister().DeleteEventsRange(ctx, lo, hi); err != nil {
		return SplitResult{}, err
	}
	log.Info("split complete", "copied", copied+caught, "generation", next.Generation)
	return SplitResult{EventsCopied: copied + caught, Generation: next.Generation}, nil
}

// Merge folds source's range into target, its left neighbor, and retires
// source. Events the target already holds are dropped and counted.
func (o *Orchestrator) Merge(ctx context.Context, source, target shard.Group) (MergeResult, error) {
	cfg := o.Configuration()
	if err := o.validateMerge(cfg, source, target); err != nil {
		return MergeResult{}, err
	}
	src, err := o.writer(source.WriterEndpoint)
	if err != nil {
		return MergeResult{}, err
	}
	tgt, err := o.writer(target.WriterEndpoint)
	if err != nil {
		return MergeResult{}, err
	}

	lo, hi := source.HashRangeStart, cfg.RangeEnd(source)
	downstream := src.Sink()
	router := NewRouter(source.Role, lo, hi, downstream)
	src.SetSink(router)
	log.Info("merge started", "role", source.Role, "source", source.Name, "target", target.Name)

	if err := o.drain(ctx, src); err != nil {
		router.Abort(ctx)
		src.SetSink(downstream)
		return MergeResult{}, err
	}

	existing, elements, err := o.persistedState(ctx, tgt.Persister())
	if err != nil {
		router.Abort(ctx)
		src.SetSink(downstream)
		return MergeResult{}, err
	}
	dropped, invalid := 0, 0
	// Id duplicates are replicas both sides persisted. Beyond that, a
	// primary-element event must still be valid against the merged state: an
	// Add of an element the target already has (under another id), or a
	// Remove of one it does not, would poison replay and is dropped.
	keep := func(e accessmgr.Event) bool {
		if _, dup := existing[e.ID]; dup {
			dropped++
			return false
		}
		if e.Kind.IsPrimaryElement() {
			key := e.FactKey()
			_, present := elements[key]
			switch e.Action {
			case accessmgr.Add:
				if present {
					invalid++
					return false
				}
				elements[key] = struct{}{}
			case accessmgr.Remove:
				if !present {
					invalid++
					return false
				}
				delete(elements, key)
			}
		}
		return true
	}
	copied, cursor, err := o.copyRange(ctx, src.Persister(), tgt.Persister(), lo, hi, accessmgr.NilUUID, keep)
	if err != nil {
		router.Abort(ctx)
		src.SetSink(downstream)
		return MergeResult{}, err
	}

	next := cfg.WithoutGroup(source.Role, source.HashRangeStart)
	if err := o.install(ctx, next); err != nil {
		router.Abort(ctx)
		src.SetSink(downstream)
		return MergeResult{}, err
	}

	caught, _, err := o.copyRange(ctx, src.Persister(), tgt.Persister(), lo, hi, cursor, keep)
	if err != nil {
		return MergeResult{}, err
	}
	if err := router.Release(ctx, tgt.Sink()); err != nil {
		return MergeResult{}, err
	}
	src.SetSink(downstream)

	o.mu.Lock()
	delete(o.nodes, source.WriterEndpoint)
	o.mu.Unlock()
	if err := o.provisioner.Teardown(ctx, source); err != nil {
		log.Error("merge: source teardown failed", "error", err)
	}
	log.Info("merge complete", "copied", copied+caught, "dropped", dropped, "invalid", invalid, "generation", next.Generation)
	return MergeResult{EventsCopied: copied + caught, DuplicatesDropped: dropped, InvalidEventsDropped: invalid, Generation: next.Generation}, nil
}

func (o *Orchestrator) validateSplit(cfg *shard.Configuration, source, target shard.Group) error {
	if source.Role == shard.GroupToGroupRole {
		return accessmgr.NewError(accessmgr.ArgumentError, "group-to-group shard cannot be split")
	}
	if target.Role != source.Role {
		return accessmgr.NewError(accessmgr.ArgumentError, "split target role differs from source")
	}
	found := false
	for _, g := range cfg.GroupsOf(source.Role) {
		if g.HashRangeStart == source.HashRangeStart {
			found = true
		}
		if g.HashRangeStart == target.HashRangeStart {
			return accessmgr.NewError(accessmgr.AlreadyExistsError, "range start already owned",
				fmt.Sprintf("%d", target.HashRangeStart))
		}
	}
	if !found {
		return accessmgr.NewError(accessmgr.NotFoundError, "split source not in configuration", source.Name)
	}
	if target.HashRangeStart <= source.HashRangeStart || cfg.RangeEnd(source) < target.HashRangeStart {
		return accessmgr.NewError(accessmgr.ArgumentOutOfRangeError, "split point outside source range",
			fmt.Sprintf("%d", target.HashRangeStart))
	}
	return nil
}

func (o *Orchestrator) validateMerge(cfg *shard.Configuration, source, target shard.Group) error {
	if source.Role == shard.GroupToGroupRole {
		return accessmgr.NewError(accessmgr.ArgumentError, "group-to-group shard cannot be merged")
	}
	if target.Role != source.Role {
		return accessmgr.NewError(accessmgr.ArgumentError, "merge target role differs from source")
	}
	groups := cfg.GroupsOf(source.Role)
	for i, g := range groups {
		if g.HashRangeStart == source.HashRangeStart {
			if i == 0 || groups[i-1].HashRangeStart != target.HashRangeStart {
				return accessmgr.NewError(accessmgr.ArgumentError, "merge target must be the source's left neighbor", target.Name)
			}
			return nil
		}
	}
	return accessmgr.NewError(accessmgr.NotFoundError, "merge source not in configuration", source.Name)
}

// drain waits for the writer's buffer to empty so every event admitted
// before the router was interposed is durable. Polls at DrainPoll until
// DrainTimeout, then surfaces the stuck count.
func (o *Orchestrator) drain(ctx context.Context, w WriterControl) error {
	b := retry.WithMaxDuration(o.DrainTimeout, retry.NewConstant(o.DrainPoll))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		n, err := w.ProcessingCount(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return retry.RetryableError(accessmgr.NewError(accessmgr.ServiceUnavailableError,
				"source buffer did not drain", fmt.Sprintf("%d", n)))
		}
		return nil
	})
}

// copyRange pages events in [lo, hi] from src into dst starting after
// afterID, returning the count copied and the final cursor. keep filters
// events before persisting; nil keeps everything.
func (o *Orchestrator) copyRange(ctx context.Context, src, dst accessmgr.EventPersister, lo, hi int32,
	afterID accessmgr.UUID, keep func(accessmgr.Event) bool) (int, accessmgr.UUID, error) {
	copied := 0
	cursor := afterID
	for {
		page, err := src.ReadEventsRange(ctx, lo, hi, cursor, o.CopyBatchSize)
		if err != nil {
			return copied, cursor, err
		}
		if len(page) == 0 {
			return copied, cursor, nil
		}
		batch := page
		if keep != nil {
			batch = batch[:0:0]
			for _, e := range page {
				if keep(e) {
					batch = append(batch, e)
				}
			}
		}
		if len(batch) > 0 {
			if err := dst.PersistEvents(ctx, batch, true); err != nil {
				return copied, cursor, err
			}
			copied += len(batch)
		}
		cursor = page[len(page)-1].ID
	}
}

// persistedState scans the whole target log for merge collision detection:
// the id set of every persisted event, and the set of primary elements
// currently present (adds replayed minus removes, keyed by fact key).
func (o *Orchestrator) persistedState(ctx context.Context, p accessmgr.EventPersister) (map[accessmgr.UUID]struct{}, map[string]struct{}, error) {
	ids := map[accessmgr.UUID]struct{}{}
	elements := map[string]struct{}{}
	cursor := accessmgr.NilUUID
	for {
		page, err := p.ReadEventsRange(ctx, math.MinInt32, math.MaxInt32, cursor, o.CopyBatchSize)
		if err != nil {
			return nil, nil, err
		}
		if len(page) == 0 {
			return ids, elements, nil
		}
		for _, e := range page {
			ids[e.ID] = struct{}{}
			if e.Kind.IsPrimaryElement() {
				if e.Action == accessmgr.Add {
					elements[e.FactKey()] = struct{}{}
				} else {
					delete(elements, e.FactKey())
				}
			}
		}
		cursor = page[len(page)-1].ID
	}
}
