// Package depth provides per-pixel depth estimation for captured frames.
package depth

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrOutOfBounds is returned when a depth sample is requested outside the map.
var ErrOutOfBounds = errors.New("depth sample out of bounds")

// Map is a row-major grid of raw depth values aligned to a frame.
type Map struct {
	Width  int
	Height int
	Data   []float32
}

// NewMap allocates a zeroed map of the given size.
func NewMap(width, height int) *Map {
	return &Map{Width: width, Height: height, Data: make([]float32, width*height)}
}

// Uniform returns a map where every pixel holds v.
func Uniform(width, height int, v float32) *Map {
	m := NewMap(width, height)
	for i := range m.Data {
		m.Data[i] = v
	}
	return m
}

// At returns the raw value at pixel (x, y).
func (m *Map) At(x, y int) (float32, error) {
	if m == nil {
		return 0, errors.New("nil depth map")
	}
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrOutOfBounds, x, y, m.Width, m.Height)
	}
	idx := y*m.Width + x
	if idx >= len(m.Data) {
		return 0, fmt.Errorf("%w: map holds %d values, need index %d", ErrOutOfBounds, len(m.Data), idx)
	}
	return m.Data[idx], nil
}

// Set writes v at pixel (x, y). Out-of-range writes are ignored.
func (m *Map) Set(x, y int, v float32) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Data[y*m.Width+x] = v
}

// Estimator defines the interface for depth estimation implementations.
type Estimator interface {
	// Estimate returns a depth map with the same width and height as frame.
	Estimate(frame *gocv.Mat) (*Map, error)

	// Close releases any resources held by the estimator.
	Close() error
}

// Resize rescales m to width x height with bilinear interpolation,
// returning m unchanged when it already has that size.
func Resize(m *Map, width, height int) (*Map, error) {
	if m.Width == width && m.Height == height {
		return m, nil
	}
	if len(m.Data) != m.Width*m.Height || m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("malformed depth map: %dx%d with %d values", m.Width, m.Height, len(m.Data))
	}

	src := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32F)
	defer src.Close()
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			src.SetFloatAt(y, x, m.Data[y*m.Width+x])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	out := NewMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Data[y*width+x] = dst.GetFloatAt(y, x)
		}
	}
	return out, nil
}
