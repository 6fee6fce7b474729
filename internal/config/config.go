// Package config loads the runtime configuration: a YAML file with
// environment variable expansion, explicit env overrides for tokens and
// feature gates, then defaults and validation. The zero config is usable for
// local runs with the codex echo provider.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/courierhq/courier/internal/cron"
	"github.com/courierhq/courier/internal/observability"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Channels  ChannelsConfig            `yaml:"channels"`
	Providers ProvidersConfig           `yaml:"providers"`
	Sessions  SessionsConfig            `yaml:"sessions"`
	History   HistoryConfig             `yaml:"history"`
	Cron      cron.Config               `yaml:"cron"`
	Logging   observability.LogConfig   `yaml:"logging"`
	Tracing   observability.TraceConfig `yaml:"tracing"`
}

// ServerConfig configures the process-level runtime.
type ServerConfig struct {
	// Host is the bind address for the metrics/health listener.
	Host string `yaml:"host"`

	// MetricsPort serves /metrics and /healthz. Zero disables the listener.
	MetricsPort int `yaml:"metrics_port"`

	// MaxConcurrent caps envelopes processed in parallel.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StateDir is the root for everything the runtime persists. Empty
	// subsystem paths are derived from it: sessions snapshots, workdirs,
	// chat history, and the cron execution database.
	StateDir string `yaml:"state_dir"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	// SnapshotDir holds one JSON snapshot per session. Derived from
	// state_dir when empty.
	SnapshotDir string `yaml:"snapshot_dir"`

	// WorkdirRoot holds per-thread workdir aliases. Derived from state_dir
	// when empty.
	WorkdirRoot string `yaml:"workdir_root"`

	// WorkdirBase is the shared directory the aliases resolve to.
	WorkdirBase string `yaml:"workdir_base"`
}

// HistoryConfig configures chat history capture.
type HistoryConfig struct {
	// Enabled turns transcript capture on.
	Enabled bool `yaml:"enabled"`

	// Dir is the capture root. Derived from state_dir when empty.
	Dir string `yaml:"dir"`
}

// Load reads the YAML file at path, expands $VAR references, applies env
// overrides and defaults, and validates the result. An empty path yields the
// default configuration (env overrides still apply).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if cfg, err = parse(data); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, os.Getenv)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse decodes one YAML document strictly, so unknown keys surface as
// errors instead of being dropped.
func parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &Config{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single document")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.MaxConcurrent <= 0 {
		cfg.Server.MaxConcurrent = 8
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// The echo provider is the safety net: with nothing configured the
	// runtime still answers.
	if !cfg.Providers.Claude.Enabled && !cfg.Providers.OpenAI.Enabled {
		cfg.Providers.Codex.Enabled = true
	}
	if cfg.Providers.Primary == "" {
		switch {
		case cfg.Providers.Claude.Enabled:
			cfg.Providers.Primary = ProviderClaude
		case cfg.Providers.OpenAI.Enabled:
			cfg.Providers.Primary = ProviderOpenAI
		default:
			cfg.Providers.Primary = ProviderCodex
		}
	}
	if cfg.Providers.Fallback == "" {
		if cfg.Providers.Codex.Enabled && cfg.Providers.Primary != ProviderCodex {
			cfg.Providers.Fallback = ProviderCodex
		} else {
			cfg.Providers.Fallback = FallbackNone
		}
	}

	if dir := cfg.Server.StateDir; dir != "" {
		if cfg.Sessions.SnapshotDir == "" {
			cfg.Sessions.SnapshotDir = dir + "/sessions"
		}
		if cfg.Sessions.WorkdirRoot == "" {
			cfg.Sessions.WorkdirRoot = dir + "/workdirs"
		}
		if cfg.Sessions.WorkdirBase == "" {
			cfg.Sessions.WorkdirBase = dir + "/workspace"
		}
		if cfg.History.Dir == "" {
			cfg.History.Dir = dir + "/history"
		}
		if cfg.Cron.HistoryPath == "" {
			cfg.Cron.HistoryPath = dir + "/cron.db"
		}
	}
}

// Validate checks cross-field consistency. It runs after env overrides, so a
// token supplied via environment satisfies the corresponding requirement.
func (c *Config) Validate() error {
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("config: metrics_port %d out of range", c.Server.MetricsPort)
	}
	if err := c.Channels.validate(); err != nil {
		return err
	}
	if err := c.Providers.validate(); err != nil {
		return err
	}
	return nil
}
