// Package preview draws detections onto processed frames and serves the
// latest one as an MJPEG stream.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/emiilyxie/ctrlf/internal/detector"
	"github.com/emiilyxie/ctrlf/internal/httputil"
	"github.com/emiilyxie/ctrlf/internal/log"
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	textColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Label formats a detection caption like "chair (0.93)".
func Label(d detector.Detection) string {
	return fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
}

// Annotate draws a box and caption for every detection onto frame.
func Annotate(frame *gocv.Mat, dets []detector.Detection) {
	for _, d := range dets {
		gocv.Rectangle(frame, d.Box, boxColor, 2)

		origin := image.Pt(d.Box.Min.X, d.Box.Min.Y-10)
		if origin.Y < 10 {
			origin.Y = d.Box.Min.Y + 20
		}
		gocv.PutText(frame, Label(d), origin, gocv.FontHersheySimplex, 0.5, textColor, 2)
	}
}

// Broadcaster keeps the most recent annotated frame as JPEG.
type Broadcaster struct {
	mu      sync.RWMutex
	jpeg    []byte
	seq     uint64
	updated chan struct{}
	logger  *slog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = log.L()
	}
	return &Broadcaster{updated: make(chan struct{}), logger: logger}
}

// Publish annotates a copy of frame and stores it as the latest JPEG.
func (b *Broadcaster) Publish(frame *gocv.Mat, dets []detector.Detection) {
	annotated := frame.Clone()
	defer annotated.Close()
	Annotate(&annotated, dets)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, annotated)
	if err != nil {
		b.logger.Warn("failed to encode preview frame", "error", err)
		return
	}
	defer buf.Close()

	b.Set(append([]byte(nil), buf.GetBytes()...))
}

// Set stores jpeg as the latest frame and wakes waiting streams.
func (b *Broadcaster) Set(jpeg []byte) {
	b.mu.Lock()
	b.jpeg = jpeg
	b.seq++
	close(b.updated)
	b.updated = make(chan struct{})
	b.mu.Unlock()
}

// Latest returns the latest JPEG, its sequence number, and a channel closed
// on the next update.
func (b *Broadcaster) Latest() ([]byte, uint64, <-chan struct{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.jpeg, b.seq, b.updated
}

// Handler streams the broadcaster's frames as multipart MJPEG.
type Handler struct {
	b *Broadcaster
	// keepAlive resends the current frame when nothing new arrives, so
	// browsers do not stall between slow processed frames.
	keepAlive time.Duration
}

// NewHandler creates a new Handler for b.
func NewHandler(b *Broadcaster) *Handler {
	return &Handler{b: b, keepAlive: 5 * time.Second}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var lastSeq uint64
	for {
		jpeg, seq, updated := h.b.Latest()
		if seq != lastSeq && len(jpeg) > 0 {
			if err := writePart(w, jpeg); err != nil {
				return
			}
			lastSeq = seq
		}

		select {
		case <-r.Context().Done():
			return
		case <-updated:
		case <-time.After(h.keepAlive):
			lastSeq = 0
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Snapshot serves the latest frame as a single JPEG, or 404 before the
// first processed frame.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	jpeg, _, _ := h.b.Latest()
	if len(jpeg) == 0 {
		httputil.NotFound(w, "no frame processed yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpeg)
}

// Mux returns routes for the preview server: /stream and /frame.jpg.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/stream", h)
	mux.HandleFunc("/frame.jpg", h.Snapshot)
	return mux
}
