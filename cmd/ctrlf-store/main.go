// Command ctrlf-store serves the object position store over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/emiilyxie/ctrlf/internal/config"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/server"
	"github.com/emiilyxie/ctrlf/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ctrlf-store: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.StoreFromEnv(config.DefaultStore())
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.DurationVar(&cfg.LiveInterval.Duration, "live-interval", cfg.LiveInterval.Duration, "poll interval for /api/live")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	st, err := store.New(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("position store opened", "db", st.Path())

	srv := server.New(server.Config{
		Store:        st,
		LiveInterval: cfg.LiveInterval.Duration,
		Logger:       logger,
	})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx, cfg.ListenAddr)
}
