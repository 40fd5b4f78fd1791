package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bindery/internal/backend"
	"bindery/internal/config"
	"bindery/internal/daemon"
	"bindery/internal/logging"
)

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "Configuration file path")
	flag.Parse()

	cfg, path, exists, err := config.Load(*configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if exists {
		logger.Info("loaded configuration", logging.String("path", path))
	} else {
		logger.Warn("no configuration file found, using defaults", logging.String("path", path))
	}

	d, err := daemon.New(cfg, logger, backend.NewPDF(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("binderyd starting",
		logging.String("intake", cfg.Paths.IntakeDir),
		logging.String("output", cfg.Paths.OutputDir))
	return d.Run(ctx)
}
