package buffer

import (
	"sync"
	"time"
)

// FlushStrategy decides when the buffer flushes. Start hands the strategy
// the flush trigger; NotifyBuffered is called after every enqueue with the
// new buffered total.
type FlushStrategy interface {
	Start(flush func())
	NotifyBuffered(total int)
	Stop()
}

// SizeLimited flushes whenever the buffered total reaches the limit.
type SizeLimited struct {
	Limit int
	flush func()
}

func (s *SizeLimited) Start(flush func()) {
	s.flush = flush
}

func (s *SizeLimited) NotifyBuffered(total int) {
	if total >= s.Limit && s.flush != nil {
		go s.flush()
	}
}

func (s *SizeLimited) Stop() {}

// Looping flushes on a periodic timer.
type Looping struct {
	Interval time.Duration

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

func (s *Looping) Start(flush func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticker = time.NewTicker(s.Interval)
	s.done = make(chan struct{})
	go func(t *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-t.C:
				flush()
			case <-done:
				return
			}
		}
	}(s.ticker, s.done)
}

func (s *Looping) NotifyBuffered(total int) {}

func (s *Looping) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.ticker = nil
	}
}

// Hybrid is the union of SizeLimited and Looping: flush on whichever fires
// first.
type Hybrid struct {
	Size SizeLimited
	Loop Looping
}

func (s *Hybrid) Start(flush func()) {
	s.Size.Start(flush)
	s.Loop.Start(flush)
}

func (s *Hybrid) NotifyBuffered(total int) {
	s.Size.NotifyBuffered(total)
}

func (s *Hybrid) Stop() {
	s.Loop.Stop()
}

// Manual never triggers on its own; tests call Buffer.Flush directly.
type Manual struct{}

func (Manual) Start(flush func())       {}
func (Manual) NotifyBuffered(total int) {}
func (Manual) Stop()                    {}
