// Package reader implements a reader node: a local authorization store kept
// current by pulling persisted events from the event cache, with
// load-from-storage fallback when the cache no longer retains the reader's
// position.
package reader

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/store"
)

// Reader maintains a local store and the id of the last applied event. The
// refresh loop is a single goroutine; queries are served from any goroutine
// through the store's lock discipline.
type Reader struct {
	cache     accessmgr.EventCache
	persister accessmgr.EventPersister
	trip      *accessmgr.TripSwitch
	interval  time.Duration
	// storeBidirectional is forwarded to rebuilt stores on fallback load.
	storeBidirectional bool

	mu          sync.RWMutex
	local       *store.AccessManager
	lastApplied accessmgr.UUID

	consecutiveFailures int
	maxFailures         int

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New builds a reader over the given cache and persistent-storage fallback.
func New(cache accessmgr.EventCache, persister accessmgr.EventPersister, trip *accessmgr.TripSwitch, opts accessmgr.Options) *Reader {
	opts = opts.FillDefaults()
	return &Reader{
		cache:              cache,
		persister:          persister,
		trip:               trip,
		interval:           opts.BufferFlushInterval,
		storeBidirectional: opts.StoreBidirectionalMappings,
		local:              store.New(true, opts.StoreBidirectionalMappings),
		maxFailures:        3,
		done:               make(chan struct{}),
	}
}

// Store returns the queryable local store snapshot.
func (r *Reader) Store() *store.AccessManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// LastAppliedEventID returns the id of the last applied event.
func (r *Reader) LastAppliedEventID() accessmgr.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastApplied
}

// Start launches the periodic refresh loop.
func (r *Reader) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(r.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := r.Refresh(ctx); err != nil {
					log.Warn("reader refresh failed", "error", err.Error())
				}
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the refresh loop and waits for it to exit.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Refresh runs one refresh cycle: pull the cache delta since the last
// applied event and replay it through the local store's fast path. On
// EventNotCached the reader rebuilds from persistent storage. Repeated
// failures trip the switch.
func (r *Reader) Refresh(ctx context.Context) error {
	err := r.refresh(ctx)
	if err != nil {
		r.consecutiveFailures++
		if r.consecutiveFailures >= r.maxFailures && r.trip != nil {
			r.trip.Trip("persistent reader refresh failure: " + err.Error())
		}
		return err
	}
	r.consecutiveFailures = 0
	return nil
}

func (r *Reader) refresh(ctx context.Context) error {
	events, err := r.cache.GetAllSince(ctx, r.LastAppliedEventID())
	if err != nil {
		switch accessmgr.CodeOf(err) {
		case accessmgr.EventCacheEmptyError:
			// Nothing has ever been persisted through this cache; stay put.
			return nil
		case accessmgr.EventNotCachedError:
			return r.loadFromStorage(ctx)
		}
		return err
	}
	if len(events) == 0 {
		return nil
	}
	local := r.Store()
	for _, e := range events {
		if applyErr := local.ApplyEvent(e); applyErr != nil {
			// Events were validated at the writer; failure here means the
			// reader diverged. Rebuild from storage.
			log.Warn("reader apply diverged, rebuilding", "event", e.String(), "error", applyErr.Error())
			return r.loadFromStorage(ctx)
		}
		r.setLastApplied(e.ID)
	}
	return nil
}

// loadFromStorage rebuilds the local store from the persisted event log up
// to latest and resets the reader position to the returned boundary.
// Transient storage failures are retried with backoff; giving up trips the
// switch. A fresh store is built per attempt so a partial replay never
// leaks into a retry.
func (r *Reader) loadFromStorage(ctx context.Context) error {
	var fresh *store.AccessManager
	var res accessmgr.LoadResult
	empty := false
	err := accessmgr.Retry(ctx, func(ctx context.Context) error {
		fresh = store.New(false, r.storeBidirectional)
		var err error
		res, err = r.persister.Load(ctx, fresh, accessmgr.LoadBoundary{})
		if err != nil {
			var e accessmgr.Error
			if errors.As(err, &e) && e.Code == accessmgr.PersistentStorageEmptyError {
				// Nothing persisted yet; not a failure.
				empty = true
				return nil
			}
			if accessmgr.IsTransient(err) {
				return retry.RetryableError(err)
			}
		}
		return err
	}, func(ctx context.Context) {
		if r.trip != nil {
			r.trip.Trip("persistent storage unreachable during reader rebuild")
		}
	})
	if err != nil {
		return err
	}
	if empty {
		return nil
	}
	r.mu.Lock()
	r.local = fresh.WithLocking()
	r.lastApplied = res.LastEventID
	r.mu.Unlock()
	log.Info("reader rebuilt from storage", "events", res.Count, "lastEventId", res.LastEventID.String())
	return nil
}

func (r *Reader) setLastApplied(id accessmgr.UUID) {
	r.mu.Lock()
	r.lastApplied = id
	r.mu.Unlock()
}
