// Package app wires the capture pipeline: camera, scheduler, detector,
// depth estimator and emitter, run as one sequential loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/emiilyxie/ctrlf/internal/capture"
	"github.com/emiilyxie/ctrlf/internal/depth"
	"github.com/emiilyxie/ctrlf/internal/detector"
	"github.com/emiilyxie/ctrlf/internal/emitter"
	"github.com/emiilyxie/ctrlf/internal/geometry"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/scheduler"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

// Loop delays.
const (
	// ReadRetryDelay is the pause after a failed camera read.
	ReadRetryDelay = 100 * time.Millisecond
	// PausedDelay is the pause between frames while the pipeline is disabled.
	PausedDelay = 100 * time.Millisecond
)

// FramePublisher receives every processed frame together with its
// detections, e.g. for an annotated preview. It must not retain frame.
type FramePublisher interface {
	Publish(frame *gocv.Mat, dets []detector.Detection)
}

// Deps are the handles the App owns. Camera, Detector and Estimator are
// released by Close.
type Deps struct {
	Camera    capture.Camera
	Detector  detector.Detector
	Estimator depth.Estimator
	Sink      emitter.Sink
	Clock     timeutil.Clock
	Logger    *slog.Logger
	Preview   FramePublisher
}

// Options are the fixed pipeline parameters.
type Options struct {
	Camera         geometry.Camera
	Interval       time.Duration
	MaxDepthMeters float64
	MinConfidence  float64
	Source         string
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Captured  int64
	Processed int64
	Emitted   int64
	Failed    int64
}

// App is the capture pipeline.
type App struct {
	deps      Deps
	opts      Options
	scheduler *scheduler.FrameScheduler
	emitter   *emitter.Emitter

	mu       sync.RWMutex
	enabled  bool
	onResult func(emitter.Result)

	captured  atomic.Int64
	processed atomic.Int64
	emitted   atomic.Int64
	failed    atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New creates an App. An invalid camera model is a configuration error.
func New(deps Deps, opts Options) (*App, error) {
	if deps.Camera == nil || deps.Detector == nil || deps.Estimator == nil || deps.Sink == nil {
		return nil, errors.New("app: camera, detector, estimator and sink are required")
	}
	if err := opts.Camera.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxDepthMeters <= 0 {
		return nil, fmt.Errorf("app: max depth must be positive, got %v", opts.MaxDepthMeters)
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = log.L()
	}

	em := emitter.New(emitter.Config{
		Camera:         opts.Camera,
		MaxDepthMeters: opts.MaxDepthMeters,
		Source:         opts.Source,
	}, deps.Sink, emitter.WithClock(deps.Clock), emitter.WithLogger(deps.Logger))

	return &App{
		deps:      deps,
		opts:      opts,
		scheduler: scheduler.New(opts.Interval),
		emitter:   em,
		enabled:   true,
	}, nil
}

// SetEnabled pauses or resumes processing. Frames captured while paused
// are dropped.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if enabled && !a.enabled {
		// Resume with an immediate frame rather than waiting a full interval.
		a.scheduler.Reset()
	}
	a.enabled = enabled
}

// IsEnabled returns whether processing is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetOnResult registers fn to be called after every processed frame.
func (a *App) SetOnResult(fn func(emitter.Result)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onResult = fn
}

// Stats returns a copy of the pipeline counters.
func (a *App) Stats() Stats {
	return Stats{
		Captured:  a.captured.Load(),
		Processed: a.processed.Load(),
		Emitted:   a.emitted.Load(),
		Failed:    a.failed.Load(),
	}
}

// Run opens the camera and processes frames until ctx is done or the
// source ends. Stop is checked before each capture; a frame already in
// detection or depth estimation runs to completion.
func (a *App) Run(ctx context.Context) error {
	if !a.deps.Camera.IsOpen() {
		if err := a.deps.Camera.Open(); err != nil {
			return fmt.Errorf("open camera: %w", err)
		}
	}

	logger := a.deps.Logger
	logger.Info("capture pipeline started",
		"interval", a.opts.Interval,
		"focal_length", a.opts.Camera.FocalLength,
		"source", a.opts.Source,
	)
	defer logger.Info("capture pipeline stopped", "processed", a.processed.Load())

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := a.deps.Camera.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, capture.ErrEndOfStream):
				logger.Info("video source ended")
				return nil
			case errors.Is(err, capture.ErrCameraNotOpen):
				return err
			}
			logger.Warn("error reading frame", "error", err)
			a.deps.Clock.Sleep(ReadRetryDelay)
			continue
		}
		a.captured.Add(1)

		if !a.IsEnabled() {
			frame.Close()
			a.deps.Clock.Sleep(PausedDelay)
			continue
		}

		if !a.scheduler.Accept(a.deps.Clock.Now()) {
			frame.Close()
			continue
		}

		a.processFrame(ctx, frame)
		frame.Close()
	}
}

// processFrame runs detection, depth estimation and emission for one
// accepted frame. Errors are logged and the frame is abandoned.
func (a *App) processFrame(ctx context.Context, frame *gocv.Mat) {
	logger := a.deps.Logger
	a.processed.Add(1)

	dets, err := a.deps.Detector.Detect(frame)
	if err != nil {
		logger.Warn("detection failed", "error", err)
		return
	}
	dets = detector.Filter(dets, a.opts.MinConfidence)

	if a.deps.Preview != nil {
		a.deps.Preview.Publish(frame, dets)
	}

	if len(dets) == 0 {
		logger.Debug("no objects detected")
		a.report(emitter.Result{})
		return
	}

	dm, err := a.deps.Estimator.Estimate(frame)
	if err != nil {
		logger.Warn("depth estimation failed", "error", err)
		return
	}
	if dm.Width != frame.Cols() || dm.Height != frame.Rows() {
		dm, err = depth.Resize(dm, frame.Cols(), frame.Rows())
		if err != nil {
			logger.Warn("depth map unusable", "error", err)
			return
		}
	}

	res := a.emitter.Emit(ctx, dets, dm)
	a.emitted.Add(int64(res.Emitted))
	a.failed.Add(int64(res.Failed))
	logger.Debug("frame processed", "detections", len(dets), "emitted", res.Emitted, "failed", res.Failed)
	a.report(res)
}

func (a *App) report(res emitter.Result) {
	a.mu.RLock()
	fn := a.onResult
	a.mu.RUnlock()
	if fn != nil {
		fn(res)
	}
}

// Close releases the estimator, detector and camera, in reverse order of
// acquisition. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.deps.Estimator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close estimator: %w", err))
		}
		if err := a.deps.Detector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close detector: %w", err))
		}
		if err := a.deps.Camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
