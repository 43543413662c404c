package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera replays a fixed set of frames. Each ReadFrame hands out a
// clone the caller must Close. Without looping it reports ErrEndOfStream
// once every frame has been read.
type MockCamera struct {
	mu     sync.Mutex
	frames []*gocv.Mat
	loop   bool
	open   bool
	next   int
	reads  int
	faults map[int]error
}

// NewMockCamera creates a mock over frames. The frames stay owned by the
// caller.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{frames: frames, loop: loop, faults: map[int]error{}}
}

// Open rewinds playback.
func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.next = 0
	return nil
}

// Close stops playback. Closing twice is fine.
func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// FailRead makes read number n (0-based, counted across the camera's
// lifetime) return err instead of a frame. Playback position is unaffected.
func (c *MockCamera) FailRead(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[n] = err
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}

	n := c.reads
	c.reads++
	if err := c.faults[n]; err != nil {
		return nil, err
	}

	switch {
	case len(c.frames) == 0:
		return nil, errors.New("mock camera has no frames")
	case c.next == len(c.frames) && !c.loop:
		return nil, ErrEndOfStream
	case c.next == len(c.frames):
		c.next = 0
	}

	frame := c.frames[c.next].Clone()
	c.next++
	return &frame, nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Reads returns how many times ReadFrame has been called.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
