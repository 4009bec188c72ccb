// Package fs provides the writer's last-line-of-defense persistence: when
// the primary event store is unreachable, flushed batches are appended to a
// local journal file and drained back into the primary once it recovers.
package fs

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	log "log/slog"

	"github.com/sharedcode/accessmgr"
)

// BackupStore wraps a primary EventPersister with a file journal fallback.
// Writes go to the primary; a failing primary diverts the batch to the
// journal so ingest stays available. Every later successful contact with the
// primary first drains the journal, preserving event order.
type BackupStore struct {
	primary accessmgr.EventPersister
	path    string

	mu      sync.Mutex
	pending int
}

// NewBackupStore opens (or creates) the journal at path over the primary.
func NewBackupStore(primary accessmgr.EventPersister, path string) (*BackupStore, error) {
	b := &BackupStore{primary: primary, path: path}
	n, err := b.countJournal()
	if err != nil {
		return nil, err
	}
	b.pending = n
	return b, nil
}

// Process implements the flush sink as an idempotent persist.
func (b *BackupStore) Process(ctx context.Context, events []accessmgr.Event) error {
	return b.PersistEvents(ctx, events, true)
}

// PersistEvents drains any journaled backlog, then persists the batch. When
// the primary fails, the batch is journaled instead and no error surfaces,
// so the buffer does not trip while the primary is down.
func (b *BackupStore) PersistEvents(ctx context.Context, events []accessmgr.Event, ignoreDuplicates bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.drainLocked(ctx); err != nil {
		// Primary still down, keep the order: new events go behind the
		// backlog.
		return b.appendJournal(events)
	}
	if err := b.primary.PersistEvents(ctx, events, ignoreDuplicates); err != nil {
		log.Warn("primary event store rejected batch, journaling", "count", len(events), "error", err)
		return b.appendJournal(events)
	}
	return nil
}

// Drain replays the journaled backlog into the primary.
func (b *BackupStore) Drain(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked(ctx)
}

// PendingCount returns the number of journaled events awaiting the primary.
func (b *BackupStore) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

func (b *BackupStore) Load(ctx context.Context, target accessmgr.EventApplier, boundary accessmgr.LoadBoundary) (accessmgr.LoadResult, error) {
	if err := b.Drain(ctx); err != nil {
		return accessmgr.LoadResult{}, err
	}
	return b.primary.Load(ctx, target, boundary)
}

func (b *BackupStore) ReadEventsRange(ctx context.Context, lo, hi int32, afterID accessmgr.UUID, limit int) ([]accessmgr.Event, error) {
	if err := b.Drain(ctx); err != nil {
		return nil, err
	}
	return b.primary.ReadEventsRange(ctx, lo, hi, afterID, limit)
}

func (b *BackupStore) DeleteEventsRange(ctx context.Context, lo, hi int32) error {
	if err := b.Drain(ctx); err != nil {
		return err
	}
	return b.primary.DeleteEventsRange(ctx, lo, hi)
}

// drainLocked pushes the journal into the primary and truncates it. The
// journal is only removed after the primary accepted everything; a crash in
// between redelivers, which the id-dedup on persist absorbs.
func (b *BackupStore) drainLocked(ctx context.Context) error {
	if b.pending == 0 {
		return nil
	}
	events, err := b.readJournal()
	if err != nil {
		return err
	}
	if len(events) > 0 {
		if err := b.primary.PersistEvents(ctx, events, true); err != nil {
			return err
		}
	}
	if err := os.Truncate(b.path, 0); err != nil {
		return err
	}
	log.Info("journal drained into primary event store", "count", len(events))
	b.pending = 0
	return nil
}

// appendJournal writes the batch as JSON lines, one event per line, fsynced.
func (b *BackupStore) appendJournal(events []accessmgr.Event) error {
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	b.pending += len(events)
	return nil
}

func (b *BackupStore) readJournal() ([]accessmgr.Event, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []accessmgr.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e accessmgr.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, sc.Err()
}

func (b *BackupStore) countJournal() (int, error) {
	events, err := b.readJournal()
	if err != nil {
		return 0, err
	}
	return len(events), nil
}
