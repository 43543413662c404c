// Package emitter turns one frame's detections into world-space position
// records and hands them to a Sink.
package emitter

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/emiilyxie/ctrlf/internal/depth"
	"github.com/emiilyxie/ctrlf/internal/detector"
	"github.com/emiilyxie/ctrlf/internal/geometry"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

// RawDepthScale is the raw estimator value that maps to MaxDepthMeters.
const RawDepthScale = 255.0

// Record is a named world position observed at Timestamp.
type Record struct {
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Sink receives position records.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Send(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Config holds the fixed parameters of an Emitter.
type Config struct {
	Camera         geometry.Camera
	MaxDepthMeters float64
	// Source tags every record.
	Source string
}

// Emitter computes and sends position records.
type Emitter struct {
	cfg    Config
	sink   Sink
	clock  timeutil.Clock
	logger *slog.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock sets the clock used for record timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(e *Emitter) { e.clock = c }
}

// WithLogger sets the logger for per-record failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// New creates an Emitter. cfg.Camera must already be validated.
func New(cfg Config, sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		cfg:    cfg,
		sink:   sink,
		clock:  timeutil.RealClock{},
		logger: log.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PhysicalDepth converts a raw estimator sample to meters in [0, max].
func PhysicalDepth(raw float32, maxDepthMeters float64) float64 {
	return geometry.ClampDepth(float64(raw)/RawDepthScale*maxDepthMeters, maxDepthMeters)
}

// Records yields one record per detection, in detector order. A detection
// whose depth cannot be sampled yields an error in place of its record;
// the sequence continues with the next detection.
func (e *Emitter) Records(dets []detector.Detection, dm *depth.Map) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, det := range dets {
			rec, err := e.record(det, dm)
			if !yield(rec, err) {
				return
			}
		}
	}
}

func (e *Emitter) record(det detector.Detection, dm *depth.Map) (Record, error) {
	c := det.Center()
	raw, err := dm.At(c.X, c.Y)
	if err != nil {
		return Record{}, fmt.Errorf("sample depth for %q at (%d,%d): %w", det.Label, c.X, c.Y, err)
	}

	d := PhysicalDepth(raw, e.cfg.MaxDepthMeters)
	p := e.cfg.Camera.ToWorld(float64(c.X), float64(c.Y), d, dm.Width, dm.Height)

	return Record{
		Name:      det.Label,
		X:         p.X,
		Y:         p.Y,
		Z:         p.Z,
		Timestamp: e.clock.Now(),
		Source:    e.cfg.Source,
	}, nil
}

// Result summarizes one Emit call.
type Result struct {
	Emitted int
	Failed  int
	Records []Record
}

// Emit computes every record for the frame and sends each to the sink.
// Sampling and send failures are logged per record and never stop the
// remaining detections.
func (e *Emitter) Emit(ctx context.Context, dets []detector.Detection, dm *depth.Map) Result {
	var res Result
	for rec, err := range e.Records(dets, dm) {
		if err != nil {
			res.Failed++
			e.logger.Warn("skipping detection", "error", err)
			continue
		}
		if err := e.sink.Send(ctx, rec); err != nil {
			res.Failed++
			e.logger.Warn("failed to send position",
				"name", rec.Name,
				"x", rec.X, "y", rec.Y, "z", rec.Z,
				"error", err,
			)
			continue
		}
		res.Emitted++
		res.Records = append(res.Records, rec)
	}
	return res
}
