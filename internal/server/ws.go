package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emiilyxie/ctrlf/internal/server/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const writeWait = 5 * time.Second

// LiveHandler pushes the snapshot to WebSocket clients on connect and
// whenever the position log grows.
type LiveHandler struct {
	store    api.Store
	interval time.Duration
	logger   *slog.Logger
	clients  map[*websocket.Conn]bool
	// mu guards clients and serializes writes to every connection.
	mu        sync.Mutex
	lastCount int64
}

// NewLiveHandler creates a LiveHandler and starts polling the store every
// interval until ctx is done.
func NewLiveHandler(ctx context.Context, s api.Store, interval time.Duration, logger *slog.Logger) *LiveHandler {
	h := &LiveHandler{
		store:     s,
		interval:  interval,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		lastCount: -1,
	}
	go h.broadcast(ctx)
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	msg, err := h.snapshotMessage(r.Context())
	if err != nil {
		h.logger.Error("failed to build snapshot", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	err = h.write(conn, msg)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	if err != nil {
		return
	}

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *LiveHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LiveHandler) broadcast(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		idle := len(h.clients) == 0
		h.mu.Unlock()
		if idle {
			continue
		}

		n, err := h.store.Count(ctx)
		if err != nil {
			h.logger.Warn("live poll failed", "error", err)
			continue
		}
		if n == h.lastCount {
			continue
		}

		msg, err := h.snapshotMessage(ctx)
		if err != nil {
			h.logger.Warn("live snapshot failed", "error", err)
			continue
		}
		h.lastCount = n

		h.mu.Lock()
		for conn := range h.clients {
			if err := h.write(conn, msg); err != nil {
				h.logger.Debug("dropping live client", "error", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

func (h *LiveHandler) write(conn *websocket.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (h *LiveHandler) snapshotMessage(ctx context.Context) ([]byte, error) {
	snap, err := h.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.ObjectResponse, len(snap))
	for i, p := range snap {
		out[i] = api.ToObjectResponse(p)
	}
	return json.Marshal(out)
}
