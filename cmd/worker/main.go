package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/liftline/liftline-backend/internal/app"
)

// Standalone job worker. Runs the same claim/dispatch loop the API binary
// embeds; deploy as many replicas as the queue needs.
func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.Log.Info("Worker starting")
	if err := application.Services.Worker.Run(ctx); err != nil {
		application.Log.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
	application.Log.Info("Worker shut down")
}
