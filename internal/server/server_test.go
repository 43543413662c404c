package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/store"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

func TestServer_Health(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(Config{Clock: clock, Logger: log.Discard()})
	clock.Advance(90 * time.Second)

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if response["uptime"] != "1m30s" {
			t.Errorf("expected uptime 1m30s, got %v", response["uptime"])
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_HealthReportsRows(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), store.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	if _, err := st.Append(t.Context(), "chair", 1, 2, 3); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	s := New(Config{Store: st, Logger: log.Discard()})
	defer s.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var response struct {
		Status string `json:"status"`
		Rows   int64  `json:"rows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Rows != 1 {
		t.Errorf("expected rows 1, got %d", response.Rows)
	}
}

func TestServer_HealthUnavailable(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), store.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	s := New(Config{Store: st, Logger: log.Discard()})
	defer s.Close()
	st.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{Logger: log.Discard()})

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_NoStoreRoutesWithoutStore(t *testing.T) {
	s := New(Config{Logger: log.Discard()})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get-objects", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New(Config{Logger: log.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
