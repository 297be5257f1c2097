package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/upcheck/upcheck/internal/bootstrap"
	"github.com/upcheck/upcheck/internal/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting upcheck worker",
		zap.String("node_id", cfg.NodeID),
		zap.Uint32("worker_id", cfg.WorkerID),
		zap.Int("worker_count", cfg.WorkerCount),
		zap.Int("peer_count", len(cfg.Peers)),
		zap.String("shm_path", cfg.ShmPath))

	w, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to bootstrap worker", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	logger.Info("worker started",
		zap.String("status_addr", cfg.StatusAddr),
		zap.String("metrics_addr", cfg.MetricsAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	cancel()
	if err := w.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
