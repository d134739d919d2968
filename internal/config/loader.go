package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands environment variables. An empty
// path yields an empty config so that environment overrides can supply
// everything.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config, applies HUDDLE_* overrides, then defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies overrides and defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Environment variables that override file values.
const (
	EnvAPIURL       = "HUDDLE_API_URL"
	EnvWSURL        = "HUDDLE_WS_URL"
	EnvDebug        = "HUDDLE_DEBUG"
	EnvAPITimeout   = "HUDDLE_API_TIMEOUT"
	EnvStoreBackend = "HUDDLE_STORE_BACKEND"
	EnvStorePath    = "HUDDLE_STORE_PATH"
	EnvRedisAddr    = "HUDDLE_REDIS_ADDR"
	EnvPostgresHost = "HUDDLE_POSTGRES_HOST"
	EnvPostgresPass = "HUDDLE_POSTGRES_PASSWORD"
	EnvMetricsAddr  = "HUDDLE_METRICS_ADDR"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvAPIURL, &c.API.BaseURL)
	str(EnvWSURL, &c.API.WSURL)
	str(EnvStoreBackend, &c.Store.Backend)
	str(EnvStorePath, &c.Store.File.Path)
	str(EnvRedisAddr, &c.Store.Redis.Addr)
	str(EnvPostgresHost, &c.Store.Postgres.Host)
	str(EnvPostgresPass, &c.Store.Postgres.Password)
	str(EnvMetricsAddr, &c.Metrics.Addr)

	if v, ok := lookup(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Debug = b
	}

	if v, ok := lookup(EnvAPITimeout); ok && v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAPITimeout, err)
		}
		c.API.Timeout = d
	}

	return nil
}

// parseTimeout accepts a Go duration ("30s") or bare milliseconds ("30000").
func parseTimeout(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
