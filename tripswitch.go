package accessmgr

import (
	log "log/slog"
	"sync"
	"sync/atomic"
)

// TripSwitch is a write-once process-wide latch. Once tripped, every
// externally facing entry point that guards on it fails fast with
// ServiceUnavailableError until the process restarts. Reset exists for test
// harnesses only.
type TripSwitch struct {
	tripped atomic.Bool
	once    sync.Once
	reason  string
}

// Trip latches the switch. Only the first call records a reason; later calls
// are no-ops.
func (ts *TripSwitch) Trip(reason string) {
	ts.once.Do(func() {
		ts.reason = reason
		ts.tripped.Store(true)
		log.Error("trip switch actuated", "reason", reason)
	})
}

// IsTripped reports whether the switch has fired.
func (ts *TripSwitch) IsTripped() bool {
	return ts.tripped.Load()
}

// Reason returns the recorded trip reason, empty if not tripped.
func (ts *TripSwitch) Reason() string {
	if !ts.IsTripped() {
		return ""
	}
	return ts.reason
}

// Guard returns a ServiceUnavailableError if the switch has fired, nil
// otherwise. Entry points call this first.
func (ts *TripSwitch) Guard() error {
	if ts.IsTripped() {
		return NewError(ServiceUnavailableError, "service unavailable: "+ts.reason)
	}
	return nil
}

// Reset untrips the switch. Init/reset is legal at process start only; tests
// use it between cases.
func (ts *TripSwitch) Reset() {
	ts.tripped.Store(false)
	ts.once = sync.Once{}
	ts.reason = ""
}
