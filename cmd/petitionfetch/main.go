// File: cmd/petitionfetch/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/petitionfetch/cmd"
	"github.com/xkilldash9x/petitionfetch/internal/observability"
)

func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	observability.Sync()

	if err != nil {
		os.Exit(1)
	}
}
