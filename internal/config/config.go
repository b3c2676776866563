package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"devmatch/internal/domain"
)

// Config models devmatch.yml.
type Config struct {
	Assignment Assignment `yaml:"assignment"`
	Sweeper    struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sweeper"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log Log `yaml:"log"`
}

type Assignment struct {
	// AcceptanceWindow is how long a developer has to accept an offer.
	AcceptanceWindow        time.Duration      `yaml:"acceptance_window"`
	DefaultCounts           domain.LevelCounts `yaml:"default_counts"`
	EligibleProjectStatuses []string           `yaml:"eligible_project_statuses"`
	AvailableStates         []string           `yaml:"available_states"`
	// MaxRetries bounds retries of a transaction that hit a transient lock.
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type Log struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads config from workspace. A missing file yields the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	a := c.Assignment
	if a.AcceptanceWindow <= 0 {
		return fmt.Errorf("assignment.acceptance_window must be positive")
	}
	for _, l := range domain.Levels {
		if a.DefaultCounts.Get(l) < 0 {
			return fmt.Errorf("assignment.default_counts.%s must not be negative", l)
		}
	}
	if a.DefaultCounts.Total() == 0 {
		return fmt.Errorf("assignment.default_counts must request at least one candidate")
	}
	if len(a.EligibleProjectStatuses) == 0 {
		return fmt.Errorf("assignment.eligible_project_statuses is required")
	}
	for _, s := range a.EligibleProjectStatuses {
		if s == domain.ProjectStatusAccepted {
			return fmt.Errorf("assignment.eligible_project_statuses must not include %s", s)
		}
	}
	if len(a.AvailableStates) == 0 {
		return fmt.Errorf("assignment.available_states is required")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("assignment.max_retries must not be negative")
	}
	if a.RetryBackoff < 0 {
		return fmt.Errorf("assignment.retry_backoff must not be negative")
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive when the sweeper is enabled")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Output {
	case "", "stdout", "stderr":
	case "file":
		if c.Log.File == "" {
			return fmt.Errorf("log.file is required when log.output is file")
		}
	default:
		return fmt.Errorf("log.output %q is not one of stdout, stderr, file", c.Log.Output)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "devmatch.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultYAML), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// DefaultYAML is written by `dm init`.
const DefaultYAML = `assignment:
  acceptance_window: 15m
  default_counts:
    expert: 3
    mid: 5
    fresher: 5
  eligible_project_statuses: [submitted, assigning]
  available_states: [available, checking]
  max_retries: 5
  retry_backoff: 20ms

sweeper:
  enabled: true
  interval: 1m

server:
  addr: 127.0.0.1:8080
  base_path: /v1

log:
  level: info
  output: stderr
  max_size_mb: 100
  max_backups: 3
  max_age_days: 28
`
