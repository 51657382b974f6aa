package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func serveFlags(args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Duration("trace-timeout", 2*time.Second, "")
	flags.StringArray("kafka-filters", nil, "")
	_ = flags.Parse(args)
	return flags
}

func TestLoadServeDefaults(t *testing.T) {
	cfg, err := LoadServe("", serveFlags("--rpc", "ws://node:8546"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "ws://node:8546" || !cfg.PendingEnabled || !cfg.BlockEnabled {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second || cfg.TraceTimeout != 2*time.Second || cfg.GasFloor != 21000 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MaxFilters != 256 || cfg.Kafka.Enabled() || cfg.Redis.Enabled() {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadServeEnv(t *testing.T) {
	t.Setenv("PUSHD_RPC", "ws://env:8546")
	t.Setenv("PUSHD_BLOCK_ENABLED", "false")
	t.Setenv("PUSHD_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PUSHD_REDIS_FILTERS", `{"signature":1,"gasLimit":5};{"gasLimit":100000}`)

	cfg, err := LoadServe("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "ws://env:8546" || cfg.BlockEnabled {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.Kafka.Target) != 2 || cfg.Kafka.Target[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Target)
	}
	if len(cfg.Redis.Filters) != 2 || cfg.Redis.Filters[0] != `{"signature":1,"gasLimit":5}` {
		t.Fatalf("unexpected redis filters %v", cfg.Redis.Filters)
	}
}

func TestLoadServeFlagFiltersKeepCommas(t *testing.T) {
	cfg, err := LoadServe("", serveFlags("--rpc", "ws://node", "--kafka-filters", `{"signature":1,"gasLimit":5}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Kafka.Filters) != 1 || cfg.Kafka.Filters[0] != `{"signature":1,"gasLimit":5}` {
		t.Fatalf("unexpected kafka filters %v", cfg.Kafka.Filters)
	}
}

func TestLoadServeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pushd.yaml")
	content := "rpc: ws://file:8546\ntrace-timeout: 500ms\nallowed-origins:\n  - https://a.example\n  - https://b.example\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadServe(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "ws://file:8546" || cfg.TraceTimeout != 500*time.Millisecond || len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("file not applied: %+v", cfg)
	}
}

func TestLoadServeValidation(t *testing.T) {
	if _, err := LoadServe("", nil); err == nil {
		t.Fatalf("expected missing rpc error")
	}
	t.Setenv("PUSHD_RPC", "ws://node")
	t.Setenv("PUSHD_PENDING_ENABLED", "false")
	t.Setenv("PUSHD_BLOCK_ENABLED", "false")
	if _, err := LoadServe("", nil); err == nil {
		t.Fatalf("expected error with both endpoints disabled")
	}
}

func TestLoadListen(t *testing.T) {
	flags := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	flags.String("url", "", "")
	flags.String("name", "", "")
	flags.StringSlice("method", nil, "")
	_ = flags.Parse([]string{"--url", "ws://node:8546/pending", "--name", "bot 1", "--method", "swap,transfer"})

	cfg, err := LoadListen("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint() != "pending" {
		t.Fatalf("unexpected endpoint %q", cfg.Endpoint())
	}
	if cfg.DialURL() != "ws://node:8546/pending?name=bot+1" {
		t.Fatalf("unexpected dial url %q", cfg.DialURL())
	}
	if len(cfg.Methods) != 2 || cfg.Methods[1] != "transfer" || cfg.BatchSize != 100 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
