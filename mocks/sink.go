package mocks

import (
	"context"
	"sync"

	"github.com/sharedcode/accessmgr"
)

// RecordingSink captures distributed batches in order, with optional induced
// failures.
type RecordingSink struct {
	mu       sync.Mutex
	batches  [][]accessmgr.Event
	FailNext int
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Process(ctx context.Context, events []accessmgr.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext > 0 {
		s.FailNext--
		return accessmgr.NewError(accessmgr.Unknown, "induced sink failure")
	}
	batch := make([]accessmgr.Event, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

// Batches returns the recorded batches.
func (s *RecordingSink) Batches() [][]accessmgr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// All returns every recorded event flattened in delivery order.
func (s *RecordingSink) All() []accessmgr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r []accessmgr.Event
	for _, b := range s.batches {
		r = append(r, b...)
	}
	return r
}

// Fail makes the next n Process calls fail.
func (s *RecordingSink) Fail(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailNext = n
}
