package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pendingScope/internal/broadcast"
	"pendingScope/internal/chain"
	"pendingScope/internal/config"
	"pendingScope/internal/engine"
	"pendingScope/internal/metrics"
	"pendingScope/internal/sink"
	"pendingScope/internal/subscriber"
	"pendingScope/internal/transport"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL,
		chain.WithRetry(cfg.MaxRetries, cfg.RetryBackoff),
		chain.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	signer, err := chainClient.Signer(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	eng, err := engine.New(engine.Config{
		PendingEnabled:  cfg.PendingEnabled,
		BlockEnabled:    cfg.BlockEnabled,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxRules:        cfg.MaxFilters,
		DedupeSize:      cfg.DedupeSize,
	}, chainClient, broadcast.Config{
		TraceTimeout: cfg.TraceTimeout,
		GasFloor:     cfg.GasFloor,
		SendTimeout:  cfg.SendTimeout,
		MaxTraces:    int64(cfg.MaxTraces),
		Signer:       signer,
	}, broadcast.JSONSerializer{}, m, logger)
	if err != nil {
		return err
	}

	if err := attachMirrors(ctx, eng, cfg, logger); err != nil {
		_ = eng.Shutdown(context.Background())
		return err
	}

	server := transport.NewServer(cfg.Listen, eng, reg, transport.Options{
		ReadLimit:      cfg.ReadLimit,
		WriteTimeout:   cfg.SendTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	logger.Info("pushd start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("listen", cfg.Listen),
		zap.Bool("pending_enabled", cfg.PendingEnabled),
		zap.Bool("block_enabled", cfg.BlockEnabled),
		zap.Duration("trace_timeout", cfg.TraceTimeout),
		zap.Uint64("gas_floor", cfg.GasFloor),
		zap.Int("max_traces", cfg.MaxTraces),
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()
	go func() {
		if err := eng.Run(ctx, chainClient); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event source stopped", zap.Error(err))
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serveErr:
		logger.Error("http server stopped", zap.Error(runErr))
	}
	stop()

	// Each subscriber gets ShutdownTimeout for its close handshake; the extra
	// second covers aborting the ones that miss it.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", zap.Error(err))
	}
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	logger.Info("pushd stopped")
	return runErr
}

func attachMirrors(ctx context.Context, eng *engine.Engine, cfg config.ServeConfig, logger *zap.Logger) error {
	if (cfg.Kafka.Enabled() || cfg.Redis.Enabled()) && !cfg.PendingEnabled {
		return fmt.Errorf("broker mirrors require the pending endpoint")
	}
	if cfg.Kafka.Enabled() {
		k, err := sink.NewKafka(cfg.Kafka.Target, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		if err := attach(eng, "kafka:"+cfg.Kafka.Topic, k, cfg.Kafka, logger); err != nil {
			return err
		}
	}
	if cfg.Redis.Enabled() {
		r, err := sink.NewRedis(ctx, cfg.Redis.Target[0], cfg.Redis.Topic)
		if err != nil {
			return err
		}
		if err := attach(eng, "redis:"+cfg.Redis.Topic, r, cfg.Redis, logger); err != nil {
			return err
		}
	}
	return nil
}

func attach(eng *engine.Engine, name string, conn subscriber.Conn, mirror config.MirrorConfig, logger *zap.Logger) error {
	sub, err := sink.Attach(eng, name, conn, mirror.Tier, mirror.Filters)
	if err != nil {
		_ = conn.Abort()
		return err
	}
	logger.Info("mirror attached",
		zap.String("name", name),
		zap.Uint64("id", sub.ID()),
		zap.String("tier", sub.Tier().String()),
		zap.Int("filters", len(mirror.Filters)),
	)
	return nil
}
