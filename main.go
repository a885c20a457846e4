// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/droidpilot/droidpilot/cmd"
	"github.com/droidpilot/droidpilot/internal/observability"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

// main is the entry point of the application.
func main() {
	// Interrupt signals cancel the command context so a running agent loop
	// can release the device cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0) // Graceful shutdown via Ctrl+C.
		}
		osExit(1)
	}
}
