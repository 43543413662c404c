package scheduler

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 2, 8, 10, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return epoch.Add(time.Duration(seconds * float64(time.Second)))
}

func TestFrameScheduler_TwoSecondInterval(t *testing.T) {
	s := New(2 * time.Second)

	attempts := []float64{0, 0.5, 1, 2.1, 3}
	want := []bool{true, false, false, true, false}

	for i, ts := range attempts {
		if got := s.Accept(at(ts)); got != want[i] {
			t.Errorf("attempt at t=%v: accepted = %v, want %v", ts, got, want[i])
		}
	}
}

func TestFrameScheduler_FirstFrameAcceptedImmediately(t *testing.T) {
	s := New(time.Hour)
	if !s.ShouldProcess(at(0)) {
		t.Fatal("first frame should be accepted without waiting for the interval")
	}
}

func TestFrameScheduler_ShouldProcessDoesNotMark(t *testing.T) {
	s := New(2 * time.Second)

	if !s.ShouldProcess(at(0)) || !s.ShouldProcess(at(0.1)) {
		t.Fatal("ShouldProcess alone must not consume the slot")
	}

	s.MarkProcessed(at(0.1))
	if s.ShouldProcess(at(2.0)) {
		t.Error("frame 1.9s after the mark should be rejected")
	}
	if !s.ShouldProcess(at(2.1)) {
		t.Error("frame exactly one interval after the mark should be accepted")
	}
}

func TestFrameScheduler_RejectedFramesDoNotShiftWindow(t *testing.T) {
	s := New(time.Second)

	s.Accept(at(0))
	for _, ts := range []float64{0.2, 0.4, 0.6, 0.8} {
		if s.Accept(at(ts)) {
			t.Fatalf("t=%v should be rejected", ts)
		}
	}
	if !s.Accept(at(1.0)) {
		t.Error("rejections must not push back the next acceptance")
	}
}

func TestFrameScheduler_ZeroIntervalAcceptsEverything(t *testing.T) {
	s := New(0)
	for i := 0; i < 5; i++ {
		if !s.Accept(at(0)) {
			t.Fatalf("attempt %d rejected with zero interval", i)
		}
	}
}

func TestFrameScheduler_Reset(t *testing.T) {
	s := New(time.Minute)
	s.Accept(at(0))
	if s.ShouldProcess(at(1)) {
		t.Fatal("expected rejection inside the interval")
	}

	s.Reset()
	if !s.ShouldProcess(at(1)) {
		t.Error("Reset should make the next frame acceptable")
	}
}
