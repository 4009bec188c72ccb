package cassandra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/gocql/gocql"

	"github.com/sharedcode/accessmgr"
)

// logPartition is the single partition the ordered log clusters under. One
// keyspace serves one shard group, so the partition stays modest and scans
// page in clustering order.
const logPartition = "log"

// EventStore is the Cassandra-backed accessmgr.EventPersister of one shard
// group.
type EventStore struct {
	conn *Connection
	role accessmgr.Role
	// seq assigns each persisted event a writer-local clustering tiebreaker.
	// Seeded from the wall clock so it stays monotonic across restarts.
	seq atomic.Int64
}

// NewEventStore builds the persister over the singleton connection for the
// shard group's role.
func NewEventStore(conn *Connection, role accessmgr.Role) *EventStore {
	s := &EventStore{conn: conn, role: role}
	s.seq.Store(accessmgr.Now().UnixNano())
	return s
}

// Process implements the flush sink as an idempotent persist.
func (s *EventStore) Process(ctx context.Context, events []accessmgr.Event) error {
	return s.PersistEvents(ctx, events, true)
}

func (s *EventStore) PersistEvents(ctx context.Context, events []accessmgr.Event, ignoreDuplicates bool) error {
	ks := s.conn.Config.Keyspace
	for _, e := range events {
		var existing string
		err := s.conn.Session.Query(
			fmt.Sprintf("SELECT occurred_at FROM %s.eventids WHERE id = ?;", ks),
			gocql.UUID(e.ID)).WithContext(ctx).Scan(&existing)
		if err == nil {
			if ignoreDuplicates {
				continue
			}
			return accessmgr.NewError(accessmgr.ArgumentError, "duplicate event id", e.ID.String())
		}
		if err != gocql.ErrNotFound {
			return err
		}

		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		occurredAt := e.OccurredAt.String()
		txSeq := s.seq.Add(1)

		batch := s.conn.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		batch.Query(
			fmt.Sprintf("INSERT INTO %s.eventorder (pk, occurred_at, tx_seq, id, action, kind, payload, hash_code) VALUES (?, ?, ?, ?, ?, ?, ?, ?);", ks),
			logPartition, occurredAt, txSeq, gocql.UUID(e.ID), string(e.Action), string(e.Kind), string(payload), e.HashCode)
		batch.Query(
			fmt.Sprintf("INSERT INTO %s.eventids (id, occurred_at, tx_seq) VALUES (?, ?, ?);", ks),
			gocql.UUID(e.ID), occurredAt, txSeq)
		if err := s.conn.Session.ExecuteBatch(batch); err != nil {
			return err
		}

		if err := s.recordFact(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// recordFact maintains the temporal validity window: an Add opens a window
// [occurredAt, MaxTimestamp); the Remove undoing it closes the open window at
// occurredAt minus one tick.
func (s *EventStore) recordFact(ctx context.Context, e accessmgr.Event) error {
	ks := s.conn.Config.Keyspace
	if e.Action == accessmgr.Add {
		return s.conn.Session.Query(
			fmt.Sprintf("INSERT INTO %s.eventfacts (fact_key, tx_from, tx_to, event_id) VALUES (?, ?, ?, ?);", ks),
			e.FactKey(), e.OccurredAt.String(), accessmgr.MaxTimestamp.String(), gocql.UUID(e.ID)).
			WithContext(ctx).Exec()
	}

	var txFrom, txTo string
	err := s.conn.Session.Query(
		fmt.Sprintf("SELECT tx_from, tx_to FROM %s.eventfacts WHERE fact_key = ? ORDER BY tx_from DESC LIMIT 1;", ks),
		e.FactKey()).WithContext(ctx).Scan(&txFrom, &txTo)
	if err == gocql.ErrNotFound {
		// Removing a fact this shard never saw added, e.g. replayed after a
		// range move. Nothing to close.
		return nil
	}
	if err != nil {
		return err
	}
	if txTo != accessmgr.MaxTimestamp.String() {
		return nil
	}
	closedAt := accessmgr.NewTimestamp(e.OccurredAt.Add(-accessmgr.TimestampEpsilon))
	return s.conn.Session.Query(
		fmt.Sprintf("UPDATE %s.eventfacts SET tx_to = ? WHERE fact_key = ? AND tx_from = ?;", ks),
		closedAt.String(), e.FactKey(), txFrom).WithContext(ctx).Exec()
}

// FactValidAt reports whether the fact's validity window covers the instant.
func (s *EventStore) FactValidAt(ctx context.Context, factKey string, at accessmgr.Timestamp) (bool, error) {
	ks := s.conn.Config.Keyspace
	var txTo string
	err := s.conn.Session.Query(
		fmt.Sprintf("SELECT tx_to FROM %s.eventfacts WHERE fact_key = ? AND tx_from <= ? ORDER BY tx_from DESC LIMIT 1;", ks),
		factKey, at.String()).WithContext(ctx).Scan(&txTo)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return at.String() < txTo, nil
}

func (s *EventStore) Load(ctx context.Context, target accessmgr.EventApplier, boundary accessmgr.LoadBoundary) (accessmgr.LoadResult, error) {
	var r accessmgr.LoadResult
	iter := s.queryLog(ctx, "", 0)
	done := false
	for !done {
		e, _, ok, err := scanEvent(iter)
		if err != nil {
			iter.Close()
			return r, err
		}
		if !ok {
			break
		}
		if boundary.UpToTimestamp != nil && e.OccurredAt.After(*boundary.UpToTimestamp) {
			break
		}
		if err := target.ApplyEvent(e); err != nil {
			iter.Close()
			return r, err
		}
		r.LastEventID = e.ID
		r.LastEventAt = e.OccurredAt
		r.Count++
		if boundary.UpToEventID != nil && e.ID.Compare(*boundary.UpToEventID) == 0 {
			done = true
		}
	}
	if err := iter.Close(); err != nil {
		return r, err
	}
	if r.Count == 0 {
		return r, accessmgr.NewError(accessmgr.PersistentStorageEmptyError, "no persisted events at boundary")
	}
	return r, nil
}

func (s *EventStore) ReadEventsRange(ctx context.Context, lo, hi int32, afterID accessmgr.UUID, limit int) ([]accessmgr.Event, error) {
	after, afterSeq, err := s.cursorOf(ctx, afterID)
	if err != nil {
		return nil, err
	}
	iter := s.queryLog(ctx, after, afterSeq)
	var out []accessmgr.Event
	for {
		e, _, ok, err := scanEvent(iter)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		if !s.inRange(e, lo, hi) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EventStore) DeleteEventsRange(ctx context.Context, lo, hi int32) error {
	ks := s.conn.Config.Keyspace
	iter := s.queryLog(ctx, "", 0)
	type doomedRow struct {
		event accessmgr.Event
		txSeq int64
	}
	var doomed []doomedRow
	for {
		e, txSeq, ok, err := scanEvent(iter)
		if err != nil {
			iter.Close()
			return err
		}
		if !ok {
			break
		}
		// Replicated kinds are range-independent, never deleted by range.
		if e.RangeOwned(s.role) && e.HashCode >= lo && e.HashCode <= hi {
			doomed = append(doomed, doomedRow{event: e, txSeq: txSeq})
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	for _, d := range doomed {
		e := d.event
		batch := s.conn.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		batch.Query(fmt.Sprintf("DELETE FROM %s.eventorder WHERE pk = ? AND occurred_at = ? AND tx_seq = ?;", ks),
			logPartition, e.OccurredAt.String(), d.txSeq)
		batch.Query(fmt.Sprintf("DELETE FROM %s.eventids WHERE id = ?;", ks), gocql.UUID(e.ID))
		batch.Query(fmt.Sprintf("DELETE FROM %s.eventfacts WHERE fact_key = ?;", ks), e.FactKey())
		if err := s.conn.Session.ExecuteBatch(batch); err != nil {
			return err
		}
	}
	return nil
}

// cursorOf resolves the clustering position of an event id, ("", 0) for the
// beginning of the log.
func (s *EventStore) cursorOf(ctx context.Context, id accessmgr.UUID) (string, int64, error) {
	if id.IsNil() {
		return "", 0, nil
	}
	var occurredAt string
	var txSeq int64
	err := s.conn.Session.Query(
		fmt.Sprintf("SELECT occurred_at, tx_seq FROM %s.eventids WHERE id = ?;", s.conn.Config.Keyspace),
		gocql.UUID(id)).WithContext(ctx).Scan(&occurredAt, &txSeq)
	if err == gocql.ErrNotFound {
		return "", 0, accessmgr.NewError(accessmgr.NotFoundError, "cursor event not persisted", id.String())
	}
	return occurredAt, txSeq, err
}

// queryLog pages the ordered log in clustering order, after the given
// (occurredAt, txSeq) position when non-empty.
func (s *EventStore) queryLog(ctx context.Context, after string, afterSeq int64) *gocql.Iter {
	ks := s.conn.Config.Keyspace
	if after == "" {
		return s.conn.Session.Query(
			fmt.Sprintf("SELECT occurred_at, tx_seq, id, action, kind, payload, hash_code FROM %s.eventorder WHERE pk = ?;", ks),
			logPartition).WithContext(ctx).Iter()
	}
	return s.conn.Session.Query(
		fmt.Sprintf("SELECT occurred_at, tx_seq, id, action, kind, payload, hash_code FROM %s.eventorder WHERE pk = ? AND (occurred_at, tx_seq) > (?, ?);", ks),
		logPartition, after, afterSeq).WithContext(ctx).Iter()
}

func (s *EventStore) inRange(e accessmgr.Event, lo, hi int32) bool {
	if !e.RangeOwned(s.role) {
		return true
	}
	return e.HashCode >= lo && e.HashCode <= hi
}

// scanEvent reads the next log row off the iterator, with its clustering
// tiebreaker. ok is false at the end.
func scanEvent(iter *gocql.Iter) (accessmgr.Event, int64, bool, error) {
	var occurredAt, action, kind, payload string
	var id gocql.UUID
	var hashCode int32
	var txSeq int64
	if !iter.Scan(&occurredAt, &txSeq, &id, &action, &kind, &payload, &hashCode) {
		return accessmgr.Event{}, 0, false, nil
	}
	at, err := accessmgr.ParseTimestamp(occurredAt)
	if err != nil {
		return accessmgr.Event{}, 0, false, err
	}
	e := accessmgr.Event{
		ID:         accessmgr.UUID(id),
		Action:     accessmgr.EventAction(action),
		Kind:       accessmgr.EventKind(kind),
		OccurredAt: at,
		HashCode:   hashCode,
	}
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return accessmgr.Event{}, 0, false, err
	}
	return e, txSeq, true, nil
}
