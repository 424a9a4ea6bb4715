// ABOUTME: Configuration loading and parsing for warden-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warden-hq/warden-gateway/internal/mock"
)

// Config represents the complete warden-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Mock     MockConfig     `yaml:"mock"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the listen address and server identity
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	ServerID string `yaml:"server_id"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DispatchConfig holds command dispatch timing configuration
type DispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"-"`
	MaxTimeout     time.Duration `yaml:"-"`
	SweepInterval  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DefaultTimeoutRaw string `yaml:"default_timeout"`
	MaxTimeoutRaw     string `yaml:"max_timeout"`
	SweepIntervalRaw  string `yaml:"sweep_interval"`
}

// MockConfig holds the simulated endpoint configuration
type MockConfig struct {
	MinLatency time.Duration `yaml:"-"`
	MaxLatency time.Duration `yaml:"-"`

	MinLatencyRaw string `yaml:"min_latency"`
	MaxLatencyRaw string `yaml:"max_latency"`

	// Agents declared here are registered at startup, alongside any
	// profiles persisted in the database.
	Agents []mock.Profile `yaml:"agents"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File enables rotating file output in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Dispatch.MaxTimeout != 0 && c.Dispatch.DefaultTimeout > c.Dispatch.MaxTimeout {
		return fmt.Errorf("dispatch.default_timeout %s exceeds dispatch.max_timeout %s",
			c.Dispatch.DefaultTimeout, c.Dispatch.MaxTimeout)
	}

	if c.Mock.MinLatency > c.Mock.MaxLatency {
		return fmt.Errorf("mock.min_latency %s exceeds mock.max_latency %s",
			c.Mock.MinLatency, c.Mock.MaxLatency)
	}

	for i, p := range c.Mock.Agents {
		if p.AgentID == "" {
			return fmt.Errorf("mock.agents[%d]: agent_id is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.default_timeout", cfg.Dispatch.DefaultTimeoutRaw, &cfg.Dispatch.DefaultTimeout},
		{"dispatch.max_timeout", cfg.Dispatch.MaxTimeoutRaw, &cfg.Dispatch.MaxTimeout},
		{"dispatch.sweep_interval", cfg.Dispatch.SweepIntervalRaw, &cfg.Dispatch.SweepInterval},
		{"mock.min_latency", cfg.Mock.MinLatencyRaw, &cfg.Mock.MinLatency},
		{"mock.max_latency", cfg.Mock.MaxLatencyRaw, &cfg.Mock.MaxLatency},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
