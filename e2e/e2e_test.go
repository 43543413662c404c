package e2e

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/emiilyxie/ctrlf/internal/app"
	"github.com/emiilyxie/ctrlf/internal/capture"
	"github.com/emiilyxie/ctrlf/internal/client"
	"github.com/emiilyxie/ctrlf/internal/depth"
	"github.com/emiilyxie/ctrlf/internal/detector"
	"github.com/emiilyxie/ctrlf/internal/geometry"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/mcpserver"
	"github.com/emiilyxie/ctrlf/internal/server"
	"github.com/emiilyxie/ctrlf/internal/store"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store  *store.Store
	clock  *timeutil.MockClock
	ts     *httptest.Server
	client *client.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := timeutil.NewMockClock(epoch)
	s, err := store.New(filepath.Join(t.TempDir(), "data.db"),
		store.WithClock(clock), store.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := server.New(server.Config{Store: s, Logger: log.Discard(), Clock: clock})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	c, err := client.New(ts.URL, ts.Client())
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return &harness{store: s, clock: clock, ts: ts, client: c}
}

// runCamera pushes a single frame with dets through a full pipeline that
// reports to the harness store.
func (h *harness) runCamera(t *testing.T, source string, position r3.Vec, dets []detector.Detection) app.Stats {
	t.Helper()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	det := detector.NewMockDetector()
	det.SetDetections(dets)

	a, err := app.New(app.Deps{
		Camera:    capture.NewMockCamera([]*gocv.Mat{&frame}, false),
		Detector:  det,
		Estimator: depth.NewMockEstimator(51),
		Sink:      h.client,
		Clock:     timeutil.NewMockClock(epoch),
		Logger:    log.Discard(),
	}, app.Options{
		Camera:         geometry.Camera{FocalLength: 600, Position: position},
		Interval:       2 * time.Second,
		MaxDepthMeters: 5,
		MinConfidence:  0.5,
		Source:         source,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return a.Stats()
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-4 }

func TestE2E_TwoCamerasLatestWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	h := newHarness(t)
	ctx := context.Background()

	// Box centers sit on the principal point, so each object lands at
	// camera position + (0, 0, 1m) for raw depth 51 of 255 over 5m.
	stats := h.runCamera(t, "desk", r3.Vec{}, []detector.Detection{
		detector.Box("cup", 300, 220, 340, 260, 0.9),
		detector.Box("laptop", 300, 220, 340, 260, 0.8),
		detector.Box("blurry", 300, 220, 340, 260, 0.2),
	})
	if stats.Emitted != 2 {
		t.Fatalf("desk Emitted = %d, want 2", stats.Emitted)
	}

	h.clock.Advance(time.Minute)
	h.runCamera(t, "kitchen", r3.Vec{X: 10}, []detector.Detection{
		detector.Box("cup", 300, 220, 340, 260, 0.9),
	})

	snap, err := h.client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snap))
	}

	cup, laptop := snap[0], snap[1]
	if cup.Name != "cup" || laptop.Name != "laptop" {
		t.Fatalf("snapshot names = %s, %s; want cup, laptop", cup.Name, laptop.Name)
	}
	if cup.Source != "kitchen" || !near(cup.X, 10) || !near(cup.Z, 1) {
		t.Errorf("cup = %+v, want the kitchen sighting at (10, 0, 1)", cup)
	}
	if !cup.Timestamp.Equal(epoch.Add(time.Minute)) {
		t.Errorf("cup timestamp = %v, want %v", cup.Timestamp, epoch.Add(time.Minute))
	}
	if laptop.Source != "desk" || !near(laptop.X, 0) || !near(laptop.Z, 1) {
		t.Errorf("laptop = %+v, want the desk sighting at (0, 0, 1)", laptop)
	}

	rows, err := h.store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if rows != 3 {
		t.Errorf("rows = %d, want 3 (history is kept)", rows)
	}

	resp, err := h.ts.Client().Get(h.ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health error = %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status string `json:"status"`
		Rows   int64  `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Rows != 3 {
		t.Errorf("health = %d %+v, want 200 with 3 rows", resp.StatusCode, health)
	}
}

func TestE2E_AskWhereThingsAre(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	h := newHarness(t)
	ctx := context.Background()

	h.runCamera(t, "desk", r3.Vec{Y: -0.5}, []detector.Detection{
		detector.Box("cell phone", 300, 220, 340, 260, 0.9),
	})
	h.clock.Advance(2 * time.Minute)

	s := mcpserver.New(h.client, h.clock, log.Discard(), "test")
	c, err := mcpclient.NewInProcessClient(s.MCP())
	if err != nil {
		t.Fatalf("NewInProcessClient() error = %v", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "e2e", Version: "test"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	ask := func(name string) string {
		t.Helper()
		req := mcp.CallToolRequest{}
		req.Params.Name = "find_object"
		req.Params.Arguments = map[string]any{"name": name}
		res, err := c.CallTool(ctx, req)
		if err != nil {
			t.Fatalf("CallTool(%q) error = %v", name, err)
		}
		if len(res.Content) == 0 {
			t.Fatalf("CallTool(%q) returned no content", name)
		}
		text, ok := res.Content[0].(mcp.TextContent)
		if !ok {
			t.Fatalf("CallTool(%q) content = %T, want text", name, res.Content[0])
		}
		return text.Text
	}

	if got, want := ask("cell phone"), "cell phone at (0.00, -0.50, 1.00) m, seen 2m ago"; got != want {
		t.Errorf("find_object = %q, want %q", got, want)
	}
	if got := ask("keys"); !strings.Contains(got, "haven't seen") {
		t.Errorf("find_object(keys) = %q, want a not-seen answer", got)
	}
}
