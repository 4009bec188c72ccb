package accessmgr

import (
	"sync"
	"testing"
)

func TestTripSwitchLatchesFirstReason(t *testing.T) {
	var ts TripSwitch
	if ts.IsTripped() {
		t.Fatal("fresh switch must be clear")
	}
	if err := ts.Guard(); err != nil {
		t.Fatalf("guard on clear switch: %v", err)
	}

	ts.Trip("storage gone")
	ts.Trip("second reason ignored")
	if !ts.IsTripped() {
		t.Fatal("switch did not latch")
	}
	if ts.Reason() != "storage gone" {
		t.Errorf("reason = %q, want the first", ts.Reason())
	}
	err := ts.Guard()
	if CodeOf(err) != ServiceUnavailableError {
		t.Errorf("guard error = %v, want ServiceUnavailableError", err)
	}

	ts.Reset()
	if ts.IsTripped() || ts.Reason() != "" {
		t.Error("reset did not clear the switch")
	}
	ts.Trip("again")
	if ts.Reason() != "again" {
		t.Errorf("post-reset reason = %q", ts.Reason())
	}
}

func TestTripSwitchConcurrentTrips(t *testing.T) {
	var ts TripSwitch
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts.Trip("racing")
		}()
	}
	wg.Wait()
	if !ts.IsTripped() || ts.Reason() != "racing" {
		t.Errorf("tripped=%v reason=%q", ts.IsTripped(), ts.Reason())
	}
}
