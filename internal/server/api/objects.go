// Package api provides HTTP API handlers for the ctrlf position store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emiilyxie/ctrlf/internal/httputil"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/store"
)

// Store is the subset of the position store used by the handlers.
type Store interface {
	AppendFrom(ctx context.Context, p store.NewPosition) (*store.Position, error)
	Snapshot(ctx context.Context) ([]store.Position, error)
	Latest(ctx context.Context, name string) (*store.Position, error)
	Names(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// maxBodyBytes bounds POST /store-object bodies.
const maxBodyBytes = 64 << 10

// ObjectHandler serves the write and read boundaries of the store.
type ObjectHandler struct {
	store  Store
	logger *slog.Logger
}

// NewObjectHandler creates a new ObjectHandler with the given store.
func NewObjectHandler(s Store, logger *slog.Logger) *ObjectHandler {
	if logger == nil {
		logger = log.L()
	}
	return &ObjectHandler{store: s, logger: logger}
}

// Request and response types

// storeObjectRequest uses pointers so a missing coordinate is told apart
// from 0.
type storeObjectRequest struct {
	Name   *string  `json:"name"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Z      *float64 `json:"z"`
	Source string   `json:"source"`
}

type storeObjectResponse struct {
	Message   string    `json:"message"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// ObjectResponse is one snapshot entry on the wire.
type ObjectResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

type namesResponse struct {
	Names []string `json:"names"`
}

// ToObjectResponse converts a store row to its wire form.
func ToObjectResponse(p store.Position) ObjectResponse {
	return ObjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		X:         p.X,
		Y:         p.Y,
		Z:         p.Z,
		Timestamp: p.Timestamp,
		Source:    p.Source,
	}
}

// StoreObject handles POST /store-object.
func (h *ObjectHandler) StoreObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req storeObjectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	var missing []string
	if req.Name == nil {
		missing = append(missing, "name")
	}
	if req.X == nil {
		missing = append(missing, "x")
	}
	if req.Y == nil {
		missing = append(missing, "y")
	}
	if req.Z == nil {
		missing = append(missing, "z")
	}
	if len(missing) > 0 {
		httputil.BadRequest(w, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	p, err := h.store.AppendFrom(r.Context(), store.NewPosition{
		Name:   *req.Name,
		X:      *req.X,
		Y:      *req.Y,
		Z:      *req.Z,
		Source: req.Source,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidPosition) {
			httputil.BadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to store object", "name", *req.Name, "error", err)
		httputil.InternalServerError(w, err.Error())
		return
	}

	h.logger.Debug("stored object", "id", p.ID, "name", p.Name, "x", p.X, "y", p.Y, "z", p.Z)
	httputil.WriteJSON(w, http.StatusCreated, storeObjectResponse{
		Message:   "Object stored successfully",
		ID:        p.ID,
		Timestamp: p.Timestamp,
	})
}

// GetObjects handles GET /get-objects: the latest row per name.
func (h *ObjectHandler) GetObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to read snapshot", "error", err)
		httputil.InternalServerError(w, err.Error())
		return
	}

	out := make([]ObjectResponse, len(snap))
	for i, p := range snap {
		out[i] = ToObjectResponse(p)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// GetObject handles GET /api/objects/{name}.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	name := r.PathValue("name")
	if strings.TrimSpace(name) == "" {
		httputil.BadRequest(w, "name is required")
		return
	}

	p, err := h.store.Latest(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "object not found")
			return
		}
		h.logger.Error("failed to read object", "name", name, "error", err)
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ToObjectResponse(*p))
}

// GetNames handles GET /api/names.
func (h *ObjectHandler) GetNames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	names, err := h.store.Names(r.Context())
	if err != nil {
		h.logger.Error("failed to read names", "error", err)
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, namesResponse{Names: names})
}
