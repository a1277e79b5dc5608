package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ajbt200128/mosaic/internal/cli"
	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/logging"
	"github.com/ajbt200128/mosaic/internal/pipeline"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage.Driver, cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := tasks.MergeOptions(cfg.Mosaic, cfg.Processing.PixelWorkers, log)
	if err != nil {
		return err
	}
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, opts)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, log, store, pipe).ExecuteContext(ctx)
}
