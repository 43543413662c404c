// Package capture provides video frame capture using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrEndOfStream is returned when a finite source (video file, recording)
	// has no more frames. The capture loop stops on it.
	ErrEndOfStream = errors.New("end of stream")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns the returned Mat and
	// must Close it.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// Source identifies what a camera captures from: a device index or a
// file path / stream URL.
type Source struct {
	Device int
	Path   string
}

// ParseSource interprets s as a device index when it is an integer and as a
// path or URL otherwise.
func ParseSource(s string) Source {
	if id, err := strconv.Atoi(s); err == nil {
		return Source{Device: id}
	}
	return Source{Path: s}
}

// IsDevice reports whether the source is a live capture device.
func (s Source) IsDevice() bool {
	return s.Path == ""
}

func (s Source) String() string {
	if s.IsDevice() {
		return fmt.Sprintf("device %d", s.Device)
	}
	return s.Path
}

// cameraImpl manages video capture from a device or file using GoCV.
type cameraImpl struct {
	source  Source
	width   int
	height  int
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
}

// NewCamera creates a Camera for the given source.
// Live devices are asked for width x height; files keep their native size.
func NewCamera(source Source, width, height int) Camera {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &cameraImpl{
		source: source,
		width:  width,
		height: height,
	}
}

// Open opens the source for capturing frames.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if c.source.IsDevice() {
		vc, err = gocv.OpenVideoCapture(c.source.Device)
	} else {
		vc, err = gocv.OpenVideoCapture(c.source.Path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", c.source, err)
	}

	if c.source.IsDevice() {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}

	c.capture = vc
	c.running = true

	return nil
}

// Close closes the source and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
// A failed read on a file source is reported as ErrEndOfStream.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if !c.source.IsDevice() {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
