package cache

import (
	"context"
	"testing"

	"github.com/sharedcode/accessmgr"
)

func makeEvents(users ...string) []accessmgr.Event {
	r := make([]accessmgr.Event, 0, len(users))
	for _, u := range users {
		r = append(r, accessmgr.NewEvent(accessmgr.Add, accessmgr.UserEvent, accessmgr.EventPayload{User: u}))
	}
	return r
}

func TestEventCache_EmptyThenSuffix(t *testing.T) {
	ctx := context.Background()
	c := New(10)

	_, err := c.GetAllSince(ctx, accessmgr.NilUUID)
	if accessmgr.CodeOf(err) != accessmgr.EventCacheEmptyError {
		t.Fatalf("pull from unpopulated cache returned %v, expected EventCacheEmptyError", err)
	}

	events := makeEvents("u1", "u2", "u3")
	if err := c.AppendBatch(ctx, events); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}

	got, err := c.GetAllSince(ctx, events[0].ID)
	if err != nil {
		t.Fatalf("GetAllSince failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != events[1].ID || got[1].ID != events[2].ID {
		t.Errorf("suffix mismatch: %v", got)
	}

	// Pull from the newest id yields an empty delta.
	got, err = c.GetAllSince(ctx, events[2].ID)
	if err != nil {
		t.Fatalf("GetAllSince at head failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("delta at head returned %d events, expected 0", len(got))
	}
}

func TestEventCache_FIFOEvictionAndNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(2)

	events := makeEvents("u1", "u2", "u3")
	if err := c.AppendBatch(ctx, events); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("cache retained %d events, expected capacity 2", c.Len())
	}

	// e1 was evicted; a reader at e1 must fall back to storage.
	_, err := c.GetAllSince(ctx, events[0].ID)
	if accessmgr.CodeOf(err) != accessmgr.EventNotCachedError {
		t.Fatalf("pull at evicted id returned %v, expected EventNotCachedError", err)
	}

	got, err := c.GetAllSince(ctx, events[1].ID)
	if err != nil {
		t.Fatalf("GetAllSince failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != events[2].ID {
		t.Errorf("suffix after eviction mismatch: %v", got)
	}
}

func TestEventCache_NilPriorReturnsAllUntilEviction(t *testing.T) {
	ctx := context.Background()
	c := New(2)
	events := makeEvents("u1", "u2")
	c.AppendBatch(ctx, events)

	got, err := c.GetAllSince(ctx, accessmgr.NilUUID)
	if err != nil {
		t.Fatalf("GetAllSince(nil) failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("GetAllSince(nil) returned %d events, expected 2", len(got))
	}

	c.AppendBatch(ctx, makeEvents("u3"))
	_, err = c.GetAllSince(ctx, accessmgr.NilUUID)
	if accessmgr.CodeOf(err) != accessmgr.EventNotCachedError {
		t.Errorf("GetAllSince(nil) after eviction returned %v, expected EventNotCachedError", err)
	}
}
