package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pendingScope/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "pushd",
		Short:        "Filtered pending transaction and block push server",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			config.LoadDotEnv()
		},
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pending transactions and blocks over websocket",
		RunE:  runServe,
	}

	serveCmd.Flags().String("rpc", "", "node websocket RPC URL (debug and txpool namespaces required)")
	serveCmd.Flags().String("listen", "127.0.0.1:8546", "HTTP listen address")
	serveCmd.Flags().Bool("pending-enabled", true, "serve the /pending endpoint")
	serveCmd.Flags().Bool("block-enabled", true, "serve the /block endpoint")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "close handshake timeout per subscriber")
	serveCmd.Flags().Duration("trace-timeout", 2*time.Second, "speculative execution deadline")
	serveCmd.Flags().Uint64("gas-floor", 21000, "transactions at or below this gas limit are never traced")
	serveCmd.Flags().Int("max-traces", 64, "concurrent speculative executions")
	serveCmd.Flags().Int("max-filters", 256, "filter registrations per subscriber")
	serveCmd.Flags().Duration("send-timeout", 10*time.Second, "per-subscriber send timeout")
	serveCmd.Flags().Int("dedupe-size", 4096, "recently seen pending hashes to ignore, 0 disables")
	serveCmd.Flags().Int64("read-limit", 1<<20, "maximum inbound message size in bytes")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "allowed websocket origins (comma-separated, * for any)")
	serveCmd.Flags().Int("max-retries", 5, "maximum RPC retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().StringSlice("kafka-brokers", nil, "mirror pending payloads to Kafka (comma-separated brokers)")
	serveCmd.Flags().String("kafka-topic", "pending-transactions", "Kafka topic")
	serveCmd.Flags().String("kafka-tier", "none", "detail tier for the Kafka mirror")
	serveCmd.Flags().StringArray("kafka-filters", nil, "filter registration for the Kafka mirror (repeatable)")
	serveCmd.Flags().StringSlice("redis-url", nil, "mirror pending payloads to Redis pub/sub")
	serveCmd.Flags().String("redis-channel", "pending-transactions", "Redis channel")
	serveCmd.Flags().String("redis-tier", "none", "detail tier for the Redis mirror")
	serveCmd.Flags().StringArray("redis-filters", nil, "filter registration for the Redis mirror (repeatable)")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to a push endpoint and record frames",
		RunE:  runListen,
	}

	listenCmd.Flags().String("url", "ws://127.0.0.1:8546/pending", "endpoint URL")
	listenCmd.Flags().String("name", "", "subscriber name")
	listenCmd.Flags().String("tier", "", "detail tier (none, events, actions)")
	listenCmd.Flags().StringArray("filter", nil, "raw filter registration JSON (repeatable)")
	listenCmd.Flags().StringSlice("method", nil, "method names or 0x selectors to filter on (comma-separated)")
	listenCmd.Flags().String("contract", "", "restrict method filters to this contract")
	listenCmd.Flags().Uint64("gas-threshold", 0, "blanket gas threshold, 0 disables")
	listenCmd.Flags().String("out", "./data/frames.jsonl", "output JSONL path")
	listenCmd.Flags().String("pg-dsn", "", "Postgres DSN, replaces the JSONL output when set")
	listenCmd.Flags().Int("batch-size", 100, "frames per storage write")
	listenCmd.Flags().Int("max-retries", 5, "maximum dial attempts per connection")
	listenCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	listenCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(listenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
