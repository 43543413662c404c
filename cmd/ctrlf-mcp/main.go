// Command ctrlf-mcp answers "where is my X?" over the Model Context
// Protocol on stdio, reading positions from a running ctrlf-store.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/emiilyxie/ctrlf/internal/client"
	"github.com/emiilyxie/ctrlf/internal/config"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/mcpserver"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
)

var version = "dev"

func main() {
	storeURL := flag.String("store", config.StoreURLFromEnv(), "position store base URL")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	// stdout carries the protocol; log.Init writes to stderr.
	log.Init(*logLevel)

	c, err := client.New(*storeURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ctrlf-mcp: %v\n", err)
		os.Exit(1)
	}

	s := mcpserver.New(c, timeutil.RealClock{}, log.L(), version)
	if err := s.ServeStdio(); err != nil {
		fmt.Fprintf(os.Stderr, "ctrlf-mcp: %v\n", err)
		os.Exit(1)
	}
}
