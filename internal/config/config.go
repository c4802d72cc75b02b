// Package config provides the typed configuration surface for the Nox
// collaborator binaries. The core (internal/supervisor and below) only
// ever consumes a Config value; parsing config.yaml and the predefined
// agents file is this package's job alone (spec.md §1).
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EventBusConfig controls the Event Bus's per-subscriber buffering.
type EventBusConfig struct {
	// SubscriberBuffer sizes each subscription's channel (spec §4.2).
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// InvokerConfig controls the Claude Invoker's subprocess defaults (spec §4.4).
type InvokerConfig struct {
	Binary         string `yaml:"binary"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	OutputCapBytes int    `yaml:"output_cap_bytes"`
}

// SchedulerConfig controls the recurring-task scheduler (spec §5's
// internal/scheduler domain-stack addition).
type SchedulerConfig struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
}

// TelegramConfig configures the Telegram observer channel.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

// ChannelsConfig groups external-observer collaborator settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// MetricsConfig controls the OpenTelemetry metrics exporter.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint string `yaml:"endpoint"` // otlp collector address, if applicable
}

// Config is the single configuration surface shared by every Nox
// collaborator binary (cmd/nox, cmd/noxtop, cmd/noxgw).
type Config struct {
	HomeDir string `yaml:"-"`

	// RegistryDir is the root of the Registry Store's git-versioned
	// working tree (spec §4.1).
	RegistryDir string `yaml:"registry_dir"`

	// TaskWorkerCount sizes the Task Manager's worker pool (spec §4.5).
	TaskWorkerCount int `yaml:"task_worker_count"`

	// ShutdownDeadlineSeconds bounds how long Supervisor.Shutdown waits
	// for in-flight tasks before force-killing survivors (spec §4.6).
	ShutdownDeadlineSeconds int `yaml:"shutdown_deadline_seconds"`

	LogLevel string `yaml:"log_level"`

	// BindAddr is the listen address for cmd/noxgw's WebSocket relay.
	BindAddr string `yaml:"bind_addr"`

	EventBus  EventBusConfig  `yaml:"event_bus"`
	Invoker   InvokerConfig   `yaml:"invoker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// AgentsFile points at the predefined-agents YAML loaded on first
	// run and hot-reloaded by Watcher (spec.md §1's predefined-agent
	// loader).
	AgentsFile string `yaml:"agents_file"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config, useful for
// detecting whether a reload actually changed anything of substance.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "registry=%s|workers=%d|shutdown=%d|bind=%s|log=%s|buf=%d",
		c.RegistryDir, c.TaskWorkerCount, c.ShutdownDeadlineSeconds, c.BindAddr, c.LogLevel, c.EventBus.SubscriberBuffer)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		TaskWorkerCount:         4,
		ShutdownDeadlineSeconds: 30,
		LogLevel:                "info",
		BindAddr:                "127.0.0.1:18790",
		EventBus: EventBusConfig{
			SubscriberBuffer: 256,
		},
		Invoker: InvokerConfig{
			Binary:         "claude",
			Model:          "claude-sonnet-4-5-20250929",
			TimeoutSeconds: int((10 * time.Minute).Seconds()),
			OutputCapBytes: 4 * 1024 * 1024,
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			PollIntervalSeconds: 30,
		},
	}
}

// HomeDir returns the Nox home directory: $NOX_HOME if set, else
// ~/.nox.
func HomeDir() string {
	if override := os.Getenv("NOX_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nox")
}

// Load reads config.yaml from HomeDir(), applying environment overrides
// and defaults. A missing config.yaml is not an error: NeedsGenesis is
// set so the caller (cmd/nox) can run first-run setup.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nox home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.RegistryDir == "" {
		cfg.RegistryDir = filepath.Join(cfg.HomeDir, "registry")
	}
	if cfg.TaskWorkerCount <= 0 {
		cfg.TaskWorkerCount = 4
	}
	if cfg.ShutdownDeadlineSeconds <= 0 {
		cfg.ShutdownDeadlineSeconds = 30
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.EventBus.SubscriberBuffer <= 0 {
		cfg.EventBus.SubscriberBuffer = 256
	}
	if cfg.Invoker.Binary == "" {
		cfg.Invoker.Binary = "claude"
	}
	if cfg.Invoker.TimeoutSeconds <= 0 {
		cfg.Invoker.TimeoutSeconds = int((10 * time.Minute).Seconds())
	}
	if cfg.Invoker.OutputCapBytes <= 0 {
		cfg.Invoker.OutputCapBytes = 4 * 1024 * 1024
	}
	if cfg.Scheduler.PollIntervalSeconds <= 0 {
		cfg.Scheduler.PollIntervalSeconds = 30
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = filepath.Join(cfg.HomeDir, "agents.yaml")
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NOX_REGISTRY_DIR"); raw != "" {
		cfg.RegistryDir = raw
	}
	if raw := os.Getenv("NOX_TASK_WORKER_COUNT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.TaskWorkerCount = v
		}
	}
	if raw := os.Getenv("NOX_SHUTDOWN_DEADLINE_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.ShutdownDeadlineSeconds = v
		}
	}
	if raw := os.Getenv("NOX_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("NOX_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NOX_INVOKER_MODEL"); raw != "" {
		cfg.Invoker.Model = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
}
