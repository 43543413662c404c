// Package mcpserver exposes the object snapshot as MCP tools, answering
// "where is my X?" for assistants.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/emiilyxie/ctrlf/internal/client"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

// Store is the read path the tools use.
type Store interface {
	Snapshot(ctx context.Context) ([]client.Object, error)
	Latest(ctx context.Context, name string) (*client.Object, error)
}

// Server holds the MCP server and its tools.
type Server struct {
	store  Store
	clock  timeutil.Clock
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New registers list_objects and find_object on a new MCP server.
func New(store Store, clock timeutil.Clock, logger *slog.Logger, version string) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = log.L()
	}

	s := &Server{
		store:  store,
		clock:  clock,
		logger: logger,
		mcp: server.NewMCPServer("ctrlf", version,
			server.WithToolCapabilities(false),
		),
	}

	s.mcp.AddTool(mcp.NewTool("list_objects",
		mcp.WithDescription("List every object ctrlF has seen with its most recent position in meters relative to the world origin."),
	), s.listObjects)

	s.mcp.AddTool(mcp.NewTool("find_object",
		mcp.WithDescription("Find the most recent known position of a named object, e.g. \"cell phone\" or \"cup\"."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Object label as reported by the detector"),
		),
	), s.findObject)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves the tools over stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) listObjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	objs, err := s.store.Snapshot(ctx)
	if err != nil {
		s.logger.Error("list_objects failed", "error", err)
		return mcp.NewToolResultError("could not read object positions: " + err.Error()), nil
	}
	if len(objs) == 0 {
		return mcp.NewToolResultText("No objects have been seen yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d objects:\n", len(objs))
	for _, o := range objs {
		b.WriteString("- ")
		b.WriteString(s.describe(o))
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) findObject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return mcp.NewToolResultError("name must not be empty"), nil
	}

	obj, err := s.store.Latest(ctx, name)
	if err == nil {
		return mcp.NewToolResultText(s.describe(*obj)), nil
	}
	if !errors.Is(err, client.ErrNotFound) {
		s.logger.Error("find_object failed", "name", name, "error", err)
		return mcp.NewToolResultError("could not read object position: " + err.Error()), nil
	}

	// Fall back to a case-insensitive or partial match over the snapshot.
	objs, err := s.store.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError("could not read object positions: " + err.Error()), nil
	}
	if matches := match(objs, name); len(matches) > 0 {
		var b strings.Builder
		for _, o := range matches {
			b.WriteString(s.describe(o))
			b.WriteByte('\n')
		}
		return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("I haven't seen %q.", name)), nil
}

func match(objs []client.Object, name string) []client.Object {
	want := strings.ToLower(name)
	var exact, partial []client.Object
	for _, o := range objs {
		got := strings.ToLower(o.Name)
		switch {
		case got == want:
			exact = append(exact, o)
		case strings.Contains(got, want) || strings.Contains(want, got):
			partial = append(partial, o)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return partial
}

// describe renders one object, e.g.
// "chair at (1.20, -0.30, 2.10) m, seen 3m ago".
func (s *Server) describe(o client.Object) string {
	return fmt.Sprintf("%s at (%.2f, %.2f, %.2f) m, seen %s",
		o.Name, o.X, o.Y, o.Z, ago(s.clock.Since(o.Timestamp)))
}

func ago(d time.Duration) string {
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
