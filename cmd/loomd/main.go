// Command loomd is the loom orchestrator daemon. It loads configuration,
// wires the engine, and runs the heartbeat loop until interrupted.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, closeAll, err := daemon.Bootstrap(cfg, logger)
	if err != nil {
		logger.Error("bootstrap daemon", logging.Error(err))
		return
	}
	defer closeAll()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon run", logging.Error(err))
		return
	}
	logger.Info("loomd shutting down")
}
