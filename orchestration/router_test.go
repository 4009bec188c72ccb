package orchestration

import (
	"context"
	"math"
	"testing"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/mocks"
)

func ev(kind accessmgr.EventKind, hash int32) accessmgr.Event {
	return accessmgr.Event{
		ID:       accessmgr.NewUUID(),
		Action:   accessmgr.Add,
		Kind:     kind,
		HashCode: hash,
	}
}

func TestRouterHoldsMovingRange(t *testing.T) {
	ctx := context.Background()
	downstream := mocks.NewRecordingSink()
	r := NewRouter(accessmgr.UserRole, 0, math.MaxInt32, downstream)

	inRange := ev(accessmgr.UserEvent, 100)
	outRange := ev(accessmgr.UserEvent, -100)
	replicated := ev(accessmgr.GroupEvent, 100) // owned by the group role, passes

	if err := r.Process(ctx, []accessmgr.Event{inRange, outRange, replicated}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if r.HeldCount() != 1 {
		t.Fatalf("held = %d, want 1", r.HeldCount())
	}
	passed := downstream.All()
	if len(passed) != 2 {
		t.Fatalf("passed %d events, want 2", len(passed))
	}
	if passed[0].ID != outRange.ID || passed[1].ID != replicated.ID {
		t.Error("pass-through order not preserved")
	}

	target := mocks.NewRecordingSink()
	if err := r.Release(ctx, target); err != nil {
		t.Fatalf("release: %v", err)
	}
	got := target.All()
	if len(got) != 1 || got[0].ID != inRange.ID {
		t.Fatalf("released %v, want the held event", got)
	}

	// After release nothing is held anymore.
	late := ev(accessmgr.UserEvent, 200)
	if err := r.Process(ctx, []accessmgr.Event{late}); err != nil {
		t.Fatalf("process after release: %v", err)
	}
	if r.HeldCount() != 0 {
		t.Error("router still holding after release")
	}
	if len(downstream.All()) != 3 {
		t.Error("late in-range event did not pass through")
	}
}

func TestRouterAbortReturnsHeldDownstream(t *testing.T) {
	ctx := context.Background()
	downstream := mocks.NewRecordingSink()
	r := NewRouter(accessmgr.UserRole, 0, math.MaxInt32, downstream)

	held1 := ev(accessmgr.UserEvent, 10)
	held2 := ev(accessmgr.UserToGroupEvent, 20)
	if err := r.Process(ctx, []accessmgr.Event{held1, held2}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := r.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	got := downstream.All()
	if len(got) != 2 || got[0].ID != held1.ID || got[1].ID != held2.ID {
		t.Fatalf("abort delivered %v, want held events in order", got)
	}
}
