package main

import (
	"fmt"
	"os"

	"github.com/liftline/liftline-backend/internal/app"
	"github.com/liftline/liftline-backend/internal/pkg/envutil"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	application.Start()

	port := envutil.String("PORT", "8080")
	application.Log.Info("Server listening", "port", port)
	if err := application.Run(":" + port); err != nil {
		application.Log.Error("Server failed", "error", err)
	}
}
