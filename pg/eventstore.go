package pg

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sharedcode/accessmgr"
)

// EventStore is the PostgreSQL-backed accessmgr.EventPersister of one shard
// group.
type EventStore struct {
	conn *Connection
	role accessmgr.Role
	// ownedKinds are the event kinds this shard's role owns by hash range;
	// everything else is a replica and range-independent.
	ownedKinds []string
}

// NewEventStore builds the persister over the singleton connection for the
// shard group's role.
func NewEventStore(conn *Connection, role accessmgr.Role) *EventStore {
	var owned []string
	for _, k := range accessmgr.EventKinds {
		if owner, _ := accessmgr.RoleForKind(k); owner == role {
			owned = append(owned, string(k))
		}
	}
	return &EventStore{conn: conn, role: role, ownedKinds: owned}
}

// Process implements the flush sink as an idempotent persist.
func (s *EventStore) Process(ctx context.Context, events []accessmgr.Event) error {
	return s.PersistEvents(ctx, events, true)
}

// PersistEvents writes the batch in order inside one transaction, so a
// failed flush leaves no partial batch behind.
func (s *EventStore) PersistEvents(ctx context.Context, events []accessmgr.Event, ignoreDuplicates bool) error {
	tx, err := s.conn.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO events (id, occurred_at, action, kind, payload, hash_code)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID.String(), e.OccurredAt.String(), string(e.Action), string(e.Kind), payload, e.HashCode)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if ignoreDuplicates {
				continue
			}
			return accessmgr.NewError(accessmgr.ArgumentError, "duplicate event id", e.ID.String())
		}
		if err := s.recordFact(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// recordFact maintains the temporal validity window: an Add opens a window
// [occurredAt, MaxTimestamp); the Remove undoing it closes the open window at
// occurredAt minus one tick.
func (s *EventStore) recordFact(ctx context.Context, tx pgx.Tx, e accessmgr.Event) error {
	if e.Action == accessmgr.Add {
		_, err := tx.Exec(ctx,
			`INSERT INTO eventfacts (fact_key, tx_from, tx_to, event_id) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (fact_key, tx_from) DO NOTHING`,
			e.FactKey(), e.OccurredAt.String(), accessmgr.MaxTimestamp.String(), e.ID.String())
		return err
	}
	closedAt := accessmgr.NewTimestamp(e.OccurredAt.Add(-accessmgr.TimestampEpsilon))
	_, err := tx.Exec(ctx,
		`UPDATE eventfacts SET tx_to = $1 WHERE fact_key = $2 AND tx_to = $3`,
		closedAt.String(), e.FactKey(), accessmgr.MaxTimestamp.String())
	return err
}

// FactValidAt reports whether the fact's validity window covers the instant.
func (s *EventStore) FactValidAt(ctx context.Context, factKey string, at accessmgr.Timestamp) (bool, error) {
	var txTo string
	err := s.conn.Pool.QueryRow(ctx,
		`SELECT tx_to FROM eventfacts WHERE fact_key = $1 AND tx_from <= $2
		 ORDER BY tx_from DESC LIMIT 1`,
		factKey, at.String()).Scan(&txTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return at.String() < txTo, nil
}

func (s *EventStore) Load(ctx context.Context, target accessmgr.EventApplier, boundary accessmgr.LoadBoundary) (accessmgr.LoadResult, error) {
	var r accessmgr.LoadResult
	rows, err := s.conn.Pool.Query(ctx,
		`SELECT id, occurred_at, action, kind, payload, hash_code FROM events
		 ORDER BY occurred_at, tx_seq`)
	if err != nil {
		return r, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return r, err
		}
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
	if err := rows.Err(); err != nil {
		return r, err
	}
	if r.Count == 0 {
		return r, accessmgr.NewError(accessmgr.PersistentStorageEmptyError, "no persisted events at boundary")
	}
	return r, nil
}

func (s *EventStore) ReadEventsRange(ctx context.Context, lo, hi int32, afterID accessmgr.UUID, limit int) ([]accessmgr.Event, error) {
	after := ""
	var afterSeq int64
	if !afterID.IsNil() {
		err := s.conn.Pool.QueryRow(ctx,
			`SELECT occurred_at, tx_seq FROM events WHERE id = $1`, afterID.String()).Scan(&after, &afterSeq)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, accessmgr.NewError(accessmgr.NotFoundError, "cursor event not persisted", afterID.String())
		}
		if err != nil {
			return nil, err
		}
	}

	query := `SELECT id, occurred_at, action, kind, payload, hash_code FROM events
		 WHERE (occurred_at, tx_seq) > ($1, $2)
		   AND (NOT kind = ANY($3) OR hash_code BETWEEN $4 AND $5)
		 ORDER BY occurred_at, tx_seq`
	args := []any{after, afterSeq, s.ownedKinds, lo, hi}
	if limit > 0 {
		query += ` LIMIT $6`
		args = append(args, limit)
	}
	rows, err := s.conn.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []accessmgr.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEventsRange removes range-owned events in [lo, hi] and their fact
// windows; replicas stay.
func (s *EventStore) DeleteEventsRange(ctx context.Context, lo, hi int32) error {
	tx, err := s.conn.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, occurred_at, action, kind, payload, hash_code FROM events
		 WHERE kind = ANY($1) AND hash_code BETWEEN $2 AND $3`,
		s.ownedKinds, lo, hi)
	if err != nil {
		return err
	}
	var ids []string
	var factKeys []string
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, e.ID.String())
		factKeys = append(factKeys, e.FactKey())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE id = ANY($1)`, ids); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM eventfacts WHERE fact_key = ANY($1)`, factKeys); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanEvent(rows pgx.Rows) (accessmgr.Event, error) {
	var id, occurredAt, action, kind string
	var payload []byte
	var hashCode int32
	if err := rows.Scan(&id, &occurredAt, &action, &kind, &payload, &hashCode); err != nil {
		return accessmgr.Event{}, err
	}
	eid, err := accessmgr.ParseUUID(id)
	if err != nil {
		return accessmgr.Event{}, err
	}
	at, err := accessmgr.ParseTimestamp(occurredAt)
	if err != nil {
		return accessmgr.Event{}, err
	}
	e := accessmgr.Event{
		ID:         eid,
		Action:     accessmgr.EventAction(action),
		Kind:       accessmgr.EventKind(kind),
		OccurredAt: at,
		HashCode:   hashCode,
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return accessmgr.Event{}, err
	}
	return e, nil
}
