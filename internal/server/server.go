// Package server provides the HTTP server for the ctrlf position store.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/emiilyxie/ctrlf/internal/httputil"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/server/api"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

// DefaultLiveInterval is how often the live endpoint checks for new rows.
const DefaultLiveInterval = time.Second

// Config holds the server configuration.
type Config struct {
	Store api.Store
	// LiveInterval controls /api/live polling. Zero uses DefaultLiveInterval.
	LiveInterval time.Duration
	Logger       *slog.Logger
	Clock        timeutil.Clock
}

// Server represents the HTTP server for the position store.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	cancel context.CancelFunc
	live   *LiveHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = log.L()
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	if config.LiveInterval <= 0 {
		config.LiveInterval = DefaultLiveInterval
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  config.Clock.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Register object API handlers if Store is configured
	if s.config.Store != nil {
		objects := api.NewObjectHandler(s.config.Store, s.config.Logger)
		s.mux.HandleFunc("/store-object", objects.StoreObject)
		s.mux.HandleFunc("/get-objects", objects.GetObjects)
		s.mux.HandleFunc("/api/objects/{name}", objects.GetObject)
		s.mux.HandleFunc("/api/names", objects.GetNames)

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.live = NewLiveHandler(ctx, s.config.Store, s.config.LiveInterval, s.config.Logger)
		s.mux.Handle("/api/live", s.live)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": s.config.Clock.Since(s.start).String(),
	}

	if s.config.Store != nil {
		rows, err := s.config.Store.Count(r.Context())
		if err != nil {
			s.config.Logger.Error("health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		response["rows"] = rows
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// Close stops the live poller.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.config.Logger.Info("store server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}
