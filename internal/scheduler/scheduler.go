// Package scheduler throttles how often captured frames are processed.
package scheduler

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum time between two processed frames.
const DefaultInterval = 2 * time.Second

// FrameScheduler accepts at most one frame per interval.
//
// Frames that arrive too early are simply rejected: there is no queue, so the
// next frame after the interval elapses is the one processed. Before any frame
// has been accepted the last acceptance is treated as -inf and the first
// opportunity is taken immediately.
type FrameScheduler struct {
	interval time.Duration

	mu       sync.Mutex
	last     time.Time
	accepted bool
}

// New creates a FrameScheduler with the given minimum interval.
// Non-positive intervals accept every frame.
func New(interval time.Duration) *FrameScheduler {
	return &FrameScheduler{interval: interval}
}

// Interval returns the configured minimum interval.
func (s *FrameScheduler) Interval() time.Duration {
	return s.interval
}

// ShouldProcess reports whether a frame captured at now should be processed.
func (s *FrameScheduler) ShouldProcess(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldProcess(now)
}

func (s *FrameScheduler) shouldProcess(now time.Time) bool {
	if !s.accepted {
		return true
	}
	return now.Sub(s.last) >= s.interval
}

// MarkProcessed records now as the time of the last accepted frame.
func (s *FrameScheduler) MarkProcessed(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = now
	s.accepted = true
}

// Accept combines ShouldProcess and MarkProcessed atomically.
func (s *FrameScheduler) Accept(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shouldProcess(now) {
		return false
	}
	s.last = now
	s.accepted = true
	return true
}

// Reset forgets the last accepted frame so the next one is taken immediately.
func (s *FrameScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Time{}
	s.accepted = false
}
