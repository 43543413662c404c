package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

var (
	// ErrQueueFull is returned by AsyncSink.Send when the record was dropped.
	ErrQueueFull = errors.New("send queue full")
	// ErrSinkClosed is returned by AsyncSink.Send after Close.
	ErrSinkClosed = errors.New("sink closed")
)

// SendPolicy bounds delivery of a single record. The zero value sends
// once with no timeout beyond the caller's context.
type SendPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

// WithPolicy wraps sink so each Send applies p. Retries wait Backoff
// between attempts and stop early when ctx is done.
func WithPolicy(sink Sink, p SendPolicy, clock timeutil.Clock) Sink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &policySink{sink: sink, policy: p, clock: clock}
}

type policySink struct {
	sink   Sink
	policy SendPolicy
	clock  timeutil.Clock
}

func (s *policySink) Send(ctx context.Context, rec Record) error {
	var err error
	for attempt := 0; attempt <= s.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if s.policy.Backoff > 0 {
				s.clock.Sleep(s.policy.Backoff)
			}
			if ctx.Err() != nil {
				return fmt.Errorf("send %q: %w (last error: %v)", rec.Name, ctx.Err(), err)
			}
		}
		if err = s.attempt(ctx, rec); err == nil {
			return nil
		}
	}
	if s.policy.MaxRetries > 0 {
		return fmt.Errorf("send %q failed after %d attempts: %w", rec.Name, s.policy.MaxRetries+1, err)
	}
	return err
}

func (s *policySink) attempt(ctx context.Context, rec Record) error {
	if s.policy.Timeout <= 0 {
		return s.sink.Send(ctx, rec)
	}
	ctx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()
	return s.sink.Send(ctx, rec)
}

// AsyncSink delivers records from a bounded queue on one worker goroutine
// so Send never blocks the capture loop. Records that do not fit in the
// queue are dropped.
type AsyncSink struct {
	sink   Sink
	queue  chan Record
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewAsyncSink starts the worker. A size below one is treated as one.
func NewAsyncSink(sink Sink, size int, logger *slog.Logger) *AsyncSink {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = log.L()
	}
	s := &AsyncSink{
		sink:   sink,
		queue:  make(chan Record, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues rec. ctx is not used for delivery; queued records are sent
// with a background context so a cancelled capture loop still drains.
func (s *AsyncSink) Send(_ context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("drop %q: %w", rec.Name, ErrQueueFull)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		if err := s.sink.Send(context.Background(), rec); err != nil {
			s.failed.Add(1)
			s.logger.Warn("async send failed", "name", rec.Name, "error", err)
			continue
		}
		s.delivered.Add(1)
	}
}

// Close stops accepting records and waits for the queue to drain.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return nil
}

// Stats returns delivery counters.
func (s *AsyncSink) Stats() (delivered, failed, dropped int64) {
	return s.delivered.Load(), s.failed.Load(), s.dropped.Load()
}
