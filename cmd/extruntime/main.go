package main

import (
	"context"
	"os"

	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/runtime"
	"go.uber.org/zap"
)

func main() {
	// stdout belongs to the protocol; logs go to stderr only.
	log := logging.NewDefault()
	defer log.Sync()

	svc := runtime.NewService(os.Stdin, os.Stdout, log)
	if err := svc.Run(context.Background()); err != nil {
		log.Error("runtime loop failed", zap.Error(err))
		os.Exit(1)
	}
}
