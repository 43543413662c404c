// Package geometry converts image-space detections into world coordinates
// using a fixed pinhole camera approximation.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidCamera is returned by Camera.Validate for unusable parameters.
var ErrInvalidCamera = errors.New("invalid camera parameters")

// Camera holds the process-wide camera parameters.
// It is set once at startup and never modified afterwards.
type Camera struct {
	// FocalLength is the focal length in pixels. Must be > 0.
	FocalLength float64
	// Position is the camera's location in world units.
	Position r3.Vec
}

// Validate reports whether the camera parameters can be used for projection.
func (c Camera) Validate() error {
	if !(c.FocalLength > 0) || math.IsInf(c.FocalLength, 0) {
		return fmt.Errorf("%w: focal length must be a positive finite number, got %v", ErrInvalidCamera, c.FocalLength)
	}
	for _, v := range []float64{c.Position.X, c.Position.Y, c.Position.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: camera position must be finite, got %v", ErrInvalidCamera, c.Position)
		}
	}
	return nil
}

// Project converts a pixel position and depth into camera-centered coordinates.
//
// The principal point is the image center (width/2, height/2). Lateral offsets
// scale linearly with depth: x = (px - cx) * depth / f, y = (py - cy) * depth / f,
// z = depth. focalLength must be positive; that is checked once by
// Camera.Validate, not here.
func Project(pixelX, pixelY, depth, focalLength float64, imageWidth, imageHeight int) (x, y, z float64) {
	cx := float64(imageWidth) / 2
	cy := float64(imageHeight) / 2
	x = (pixelX - cx) * depth / focalLength
	y = (pixelY - cy) * depth / focalLength
	return x, y, depth
}

// ToWorld projects a pixel and depth and translates the result by the
// camera position, yielding a world-frame point.
func (c Camera) ToWorld(pixelX, pixelY, depth float64, imageWidth, imageHeight int) r3.Vec {
	x, y, z := Project(pixelX, pixelY, depth, c.FocalLength, imageWidth, imageHeight)
	return r3.Add(r3.Vec{X: x, Y: y, Z: z}, c.Position)
}

// ClampDepth limits d to [0, max]. NaN maps to 0.
func ClampDepth(d, max float64) float64 {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}
