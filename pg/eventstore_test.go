package pg

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

func testConn(t *testing.T) *Connection {
	t.Helper()
	dsn := os.Getenv("ACCESSMGR_PG_TEST")
	if dsn == "" {
		t.Skip("skipping PostgreSQL integration test; set ACCESSMGR_PG_TEST to a DSN to run")
	}
	conn, err := GetConnection(context.Background(), Config{DSN: dsn})
	if err != nil {
		t.Fatalf("GetConnection failed: %v", err)
	}
	return conn
}

func resetEventTables(t *testing.T, conn *Connection) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []string{`DELETE FROM events`, `DELETE FROM eventfacts`} {
		if _, err := conn.Pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("reset %q failed: %v", stmt, err)
		}
	}
}

func userAdd(u string) accessmgr.Event {
	e := accessmgr.NewEvent(accessmgr.Add, accessmgr.UserEvent, accessmgr.EventPayload{User: u})
	e.OccurredAt = accessmgr.NewTimestamp(accessmgr.Now())
	return e
}

type eventCollector struct {
	events []accessmgr.Event
}

func (c *eventCollector) ApplyEvent(e accessmgr.Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestEventStore_DuplicatePersist(t *testing.T) {
	ctx := context.Background()
	conn := testConn(t)
	resetEventTables(t, conn)
	s := NewEventStore(conn, accessmgr.UserRole)

	e := userAdd("u1")
	if err := s.PersistEvents(ctx, []accessmgr.Event{e}, false); err != nil {
		t.Fatalf("PersistEvents failed: %v", err)
	}
	// Idempotent re-persist skips the duplicate.
	if err := s.PersistEvents(ctx, []accessmgr.Event{e}, true); err != nil {
		t.Fatalf("idempotent re-persist failed: %v", err)
	}
	// Strict mode surfaces it.
	if err := s.PersistEvents(ctx, []accessmgr.Event{e}, false); accessmgr.CodeOf(err) != accessmgr.ArgumentError {
		t.Errorf("strict duplicate persist returned %v, expected ArgumentError", err)
	}

	var c eventCollector
	if _, err := s.Load(ctx, &c, accessmgr.LoadBoundary{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.events) != 1 {
		t.Errorf("log holds %d events after duplicate persists, expected 1", len(c.events))
	}
}

func TestEventStore_EqualTimestampsBothDurable(t *testing.T) {
	ctx := context.Background()
	conn := testConn(t)
	resetEventTables(t, conn)
	s := NewEventStore(conn, accessmgr.UserRole)

	// Two writers can legitimately stamp the same instant; both rows must
	// land and replay in persist order.
	e1, e2 := userAdd("u1"), userAdd("u2")
	e2.OccurredAt = e1.OccurredAt
	if err := s.PersistEvents(ctx, []accessmgr.Event{e1, e2}, false); err != nil {
		t.Fatalf("PersistEvents with equal occurredAt failed: %v", err)
	}

	var c eventCollector
	if _, err := s.Load(ctx, &c, accessmgr.LoadBoundary{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.events) != 2 {
		t.Fatalf("log holds %d events, expected both of the tied pair", len(c.events))
	}
	if c.events[0].ID != e1.ID || c.events[1].ID != e2.ID {
		t.Errorf("replay order %s, %s; expected persist order", c.events[0].ID, c.events[1].ID)
	}
}

func TestEventStore_ReadEventsRangeCursor(t *testing.T) {
	ctx := context.Background()
	conn := testConn(t)
	resetEventTables(t, conn)
	s := NewEventStore(conn, accessmgr.UserRole)

	batch := []accessmgr.Event{userAdd("u1"), userAdd("u2"), userAdd("u3")}
	if err := s.PersistEvents(ctx, batch, false); err != nil {
		t.Fatalf("PersistEvents failed: %v", err)
	}

	page, err := s.ReadEventsRange(ctx, math.MinInt32, math.MaxInt32, accessmgr.NilUUID, 2)
	if err != nil {
		t.Fatalf("ReadEventsRange failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != batch[0].ID || page[1].ID != batch[1].ID {
		t.Fatalf("first page = %v, expected first two events", page)
	}

	page, err = s.ReadEventsRange(ctx, math.MinInt32, math.MaxInt32, page[1].ID, 2)
	if err != nil {
		t.Fatalf("ReadEventsRange after cursor failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != batch[2].ID {
		t.Fatalf("second page = %v, expected the final event", page)
	}

	_, err = s.ReadEventsRange(ctx, math.MinInt32, math.MaxInt32, accessmgr.NewUUID(), 2)
	if accessmgr.CodeOf(err) != accessmgr.NotFoundError {
		t.Errorf("unknown cursor returned %v, expected NotFoundError", err)
	}
}

func TestInstanceBackend_GenerationFence(t *testing.T) {
	ctx := context.Background()
	conn := testConn(t)
	b, err := NewInstanceBackend(ctx, conn)
	if err != nil {
		t.Fatalf("NewInstanceBackend failed: %v", err)
	}
	if _, err := conn.Pool.Exec(ctx, `DELETE FROM shard_configuration`); err != nil {
		t.Fatalf("reset configuration failed: %v", err)
	}

	cfg := shard.NewConfiguration().WithGroup(shard.Group{
		Name:           "users-a",
		Role:           shard.UserRole,
		HashRangeStart: math.MinInt32,
		WriterEndpoint: "http://users-a:8080",
	})
	if err := b.SaveConfiguration(ctx, cfg); err != nil {
		t.Fatalf("SaveConfiguration failed: %v", err)
	}
	// Same generation again is a stale write; the fence rejects it.
	if err := b.SaveConfiguration(ctx, cfg); accessmgr.CodeOf(err) != accessmgr.ArgumentOutOfRangeError {
		t.Errorf("stale save returned %v, expected ArgumentOutOfRangeError", err)
	}

	next := cfg.WithGroup(shard.Group{
		Name:           "users-b",
		Role:           shard.UserRole,
		HashRangeStart: 0,
		WriterEndpoint: "http://users-b:8080",
	})
	if err := b.SaveConfiguration(ctx, next); err != nil {
		t.Fatalf("SaveConfiguration at next generation failed: %v", err)
	}

	loaded, err := b.LoadConfiguration(ctx)
	if err != nil {
		t.Fatalf("LoadConfiguration failed: %v", err)
	}
	if loaded.Generation != next.Generation {
		t.Errorf("loaded generation %d, expected %d", loaded.Generation, next.Generation)
	}
	if len(loaded.Groups[shard.UserRole]) != 2 {
		t.Errorf("loaded %d user groups, expected 2", len(loaded.Groups[shard.UserRole]))
	}
}
