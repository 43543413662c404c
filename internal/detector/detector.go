// Package detector provides the object detection contract used by the
// capture pipeline, a YOLO ONNX implementation and a mock.
package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one labeled, confidence-scored object found in a frame.
// Box is in pixel coordinates: Min is (x1, y1), Max is (x2, y2).
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
}

// Center returns the integer midpoint of the bounding box.
// Odd sums round down, toward the box's top-left corner.
func (d Detection) Center() image.Point {
	return image.Point{
		X: floorDiv2(d.Box.Min.X + d.Box.Max.X),
		Y: floorDiv2(d.Box.Min.Y + d.Box.Max.Y),
	}
}

// Valid reports whether the detection satisfies the detector contract:
// a non-empty box with x1<x2 and y1<y2, a label, and confidence in [0,1].
func (d Detection) Valid() bool {
	return d.Box.Min.X < d.Box.Max.X &&
		d.Box.Min.Y < d.Box.Max.Y &&
		d.Label != "" &&
		d.Confidence >= 0 && d.Confidence <= 1
}

func floorDiv2(n int) int {
	if n < 0 && n%2 != 0 {
		return n/2 - 1
	}
	return n / 2
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detections in model output
	// order. Returns an empty slice if nothing is found.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Filter drops invalid detections and those below minConfidence,
// preserving order.
func Filter(dets []Detection, minConfidence float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if !d.Valid() || d.Confidence < minConfidence {
			continue
		}
		out = append(out, d)
	}
	return out
}
