package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ListenConfig holds configuration for the listen command.
type ListenConfig struct {
	URL          string
	Name         string
	Tier         string
	Filters      []string
	Methods      []string
	Contract     string
	GasThreshold uint64
	Out          string
	PGDSN        string
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// Endpoint returns the endpoint name from the URL path, e.g. "pending".
func (c ListenConfig) Endpoint() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

// DialURL returns URL with the subscriber name attached.
func (c ListenConfig) DialURL() string {
	if c.Name == "" {
		return c.URL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}
	q := u.Query()
	q.Set("name", c.Name)
	u.RawQuery = q.Encode()
	return u.String()
}

// LoadListen merges config file, environment variables, and flags into
// ListenConfig.
func LoadListen(cfgFile string, flags *pflag.FlagSet) (ListenConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"url":           "ws://127.0.0.1:8546/pending",
		"out":           "./data/frames.jsonl",
		"batch-size":    100,
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"log-level":     "info",
	})
	if err != nil {
		return ListenConfig{}, err
	}

	cfg := ListenConfig{
		URL:          v.GetString("url"),
		Name:         v.GetString("name"),
		Tier:         v.GetString("tier"),
		Filters:      getCommandList(v, "filter"),
		Methods:      getStringSlice(v, "method"),
		Contract:     v.GetString("contract"),
		GasThreshold: v.GetUint64("gas-threshold"),
		Out:          v.GetString("out"),
		PGDSN:        v.GetString("pg-dsn"),
		BatchSize:    v.GetInt("batch-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.URL == "" {
		return ListenConfig{}, fmt.Errorf("url is required")
	}
	if cfg.BatchSize <= 0 {
		return ListenConfig{}, fmt.Errorf("batch size must be greater than zero")
	}
	return cfg, nil
}
