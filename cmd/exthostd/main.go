package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattice-editor/exthost/internal/infrastructure/config"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/server"
	"go.uber.org/zap"
)

func main() {
	port := flag.String("port", "", "Control API port (overrides env)")
	extensionsDir := flag.String("extensions", "", "Extensions directory (overrides env)")
	runtimeBin := flag.String("runtime", "", "Runtime binary path (overrides env)")
	dev := flag.Bool("dev", false, "Development mode (colored debug logs)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *extensionsDir != "" {
		cfg.Extensions.Dir = *extensionsDir
	}
	if *runtimeBin != "" {
		cfg.Runtime.Binary = *runtimeBin
	}

	logCfg := logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development}
	if *dev {
		logCfg = logging.DevelopmentConfig()
	}
	log, err := logging.New(logCfg)
	if err != nil {
		log = logging.NewDefault()
	}
	defer log.Sync()

	log.Info("extension host starting",
		zap.String("port", cfg.Server.Port),
		zap.String("extensions_dir", cfg.Extensions.Dir),
		zap.String("runtime", cfg.Runtime.Binary))

	srv := server.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run(ctx)
	}()

	select {
	case <-sigChan:
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil {
			log.Fatal("server error", zap.Error(err))
		}
	}
}
