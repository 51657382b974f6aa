package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	RPCURL          string
	Listen          string
	PendingEnabled  bool
	BlockEnabled    bool
	ShutdownTimeout time.Duration
	TraceTimeout    time.Duration
	GasFloor        uint64
	MaxTraces       int
	MaxFilters      int
	SendTimeout     time.Duration
	DedupeSize      int
	ReadLimit       int64
	AllowedOrigins  []string
	MaxRetries      int
	RetryBackoff    time.Duration
	Kafka           MirrorConfig
	Redis           MirrorConfig
	LogLevel        string
}

// MirrorConfig configures a broker mirror. It is disabled when Target is
// empty.
type MirrorConfig struct {
	// Target is the broker list for Kafka or the URL for Redis.
	Target  []string
	Topic   string
	Tier    string
	Filters []string
}

// Enabled reports whether the mirror is configured.
func (m MirrorConfig) Enabled() bool {
	return len(m.Target) > 0
}

// LoadServe merges config file, environment variables, and flags into
// ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"listen":           "127.0.0.1:8546",
		"pending-enabled":  true,
		"block-enabled":    true,
		"shutdown-timeout": 10 * time.Second,
		"trace-timeout":    2 * time.Second,
		"gas-floor":        uint64(21000),
		"max-traces":       64,
		"max-filters":      256,
		"send-timeout":     10 * time.Second,
		"dedupe-size":      4096,
		"read-limit":       int64(1 << 20),
		"max-retries":      5,
		"retry-backoff":    500 * time.Millisecond,
		"kafka-topic":      "pending-transactions",
		"kafka-tier":       "none",
		"redis-channel":    "pending-transactions",
		"redis-tier":       "none",
		"log-level":        "info",
	})
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		RPCURL:          v.GetString("rpc"),
		Listen:          v.GetString("listen"),
		PendingEnabled:  v.GetBool("pending-enabled"),
		BlockEnabled:    v.GetBool("block-enabled"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		TraceTimeout:    v.GetDuration("trace-timeout"),
		GasFloor:        v.GetUint64("gas-floor"),
		MaxTraces:       v.GetInt("max-traces"),
		MaxFilters:      v.GetInt("max-filters"),
		SendTimeout:     v.GetDuration("send-timeout"),
		DedupeSize:      v.GetInt("dedupe-size"),
		ReadLimit:       v.GetInt64("read-limit"),
		AllowedOrigins:  getStringSlice(v, "allowed-origins"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		Kafka: MirrorConfig{
			Target:  getStringSlice(v, "kafka-brokers"),
			Topic:   v.GetString("kafka-topic"),
			Tier:    v.GetString("kafka-tier"),
			Filters: getCommandList(v, "kafka-filters"),
		},
		Redis: MirrorConfig{
			Target:  getStringSlice(v, "redis-url"),
			Topic:   v.GetString("redis-channel"),
			Tier:    v.GetString("redis-tier"),
			Filters: getCommandList(v, "redis-filters"),
		},
		LogLevel: v.GetString("log-level"),
	}
	if err := cfg.validate(); err != nil {
		return ServeConfig{}, err
	}
	return cfg, nil
}

func (c ServeConfig) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !c.PendingEnabled && !c.BlockEnabled {
		return fmt.Errorf("at least one of pending-enabled and block-enabled must be set")
	}
	if c.ShutdownTimeout <= 0 || c.TraceTimeout <= 0 || c.SendTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxTraces <= 0 {
		return fmt.Errorf("max-traces must be greater than zero")
	}
	if len(c.Redis.Target) > 1 {
		return fmt.Errorf("redis-url takes a single url")
	}
	return nil
}
