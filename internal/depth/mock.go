package depth

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockEstimator is a test implementation of the Estimator interface.
type MockEstimator struct {
	mu     sync.Mutex
	value  float32
	depth  *Map
	err    error
	calls  int
	closed bool
}

// NewMockEstimator returns an estimator that fills every frame with value.
func NewMockEstimator(value float32) *MockEstimator {
	return &MockEstimator{value: value}
}

// SetMap makes Estimate return m as-is regardless of frame size.
func (m *MockEstimator) SetMap(depth *Map) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

// SetError sets the error returned by Estimate.
func (m *MockEstimator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Estimate returns the configured map, or a uniform map sized to frame.
func (m *MockEstimator) Estimate(frame *gocv.Mat) (*Map, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.depth != nil {
		return m.depth, nil
	}
	return Uniform(frame.Cols(), frame.Rows(), m.value), nil
}

// Calls returns how many times Estimate has been called.
func (m *MockEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the estimator closed.
func (m *MockEstimator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockEstimator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
