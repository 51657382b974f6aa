package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pendingScope/internal/config"
	"pendingScope/internal/listener"
	"pendingScope/internal/storage"
	"pendingScope/internal/storage/postgres"
)

func runListen(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadListen(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	commands, err := listener.Subscription{
		Tier:         cfg.Tier,
		Filters:      cfg.Filters,
		Methods:      cfg.Methods,
		Contract:     cfg.Contract,
		GasThreshold: cfg.GasThreshold,
	}.Commands()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var storageSink storage.Storage
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		storageSink = store
	} else {
		storageSink = storage.NewJsonlStorage(cfg.Out)
	}

	runner := listener.NewRunner(listener.RunConfig{
		URL:          cfg.DialURL(),
		Endpoint:     cfg.Endpoint(),
		Commands:     commands,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, storageSink, logger)

	logger.Info("listener start",
		zap.String("url", cfg.URL),
		zap.String("session", runner.Session().String()),
		zap.Int("commands", len(commands)),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.String("out", cfg.Out),
	)

	return runner.Run(ctx)
}
