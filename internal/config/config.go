// Package config handles loading, validating, and defaulting refang
// configuration. The wrapper-detection patterns, defanging tokens, and
// protocol-repair rules are fixed at build time; config covers the ambient
// surface only: resolution limits, logging, and the API server listener.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:8787"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stderr"
	DefaultUserAgent = "refang/1.0"
)

// Resolve configures the best-effort redirect resolution stage.
type Resolve struct {
	Enabled        bool    `yaml:"enabled"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	UserAgent      string  `yaml:"user_agent"`
	RatePerSecond  float64 `yaml:"rate_per_second"` // batch-mode ceiling; 0 = unlimited
}

// Server configures the HTTP API listener for serve mode.
type Server struct {
	Listen string `yaml:"listen"`
}

// Logging configures the diagnostics channel.
type Logging struct {
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr, file, both
	File   string `yaml:"file"`
	Debug  bool   `yaml:"debug"`
}

// Config is the top-level refang configuration.
type Config struct {
	Version int     `yaml:"version"`
	Resolve Resolve `yaml:"resolve"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

// Defaults returns the built-in configuration: resolution off (opt in via
// flag or config) with a one second timeout, JSON diagnostics to stderr,
// loopback API listener.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Resolve: Resolve{
			Enabled:        false,
			TimeoutSeconds: 1,
			UserAgent:      DefaultUserAgent,
		},
		Server: Server{Listen: DefaultListen},
		Logging: Logging{
			Format: DefaultLogFormat,
			Output: DefaultLogOutput,
		},
	}
}

// Load reads and validates a YAML config file. Omitted fields take their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from flags
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints and fills derived defaults.
func (c *Config) Validate() error {
	if c.Resolve.TimeoutSeconds < 0 {
		return fmt.Errorf("resolve.timeout_seconds must not be negative, got %v", c.Resolve.TimeoutSeconds)
	}
	if c.Resolve.RatePerSecond < 0 {
		return fmt.Errorf("resolve.rate_per_second must not be negative, got %v", c.Resolve.RatePerSecond)
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	switch c.Logging.Output {
	case "", "stdout", "stderr", "file", "both":
	default:
		return fmt.Errorf("logging.output must be stdout, stderr, file, or both, got %q", c.Logging.Output)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when logging.output is %q", c.Logging.Output)
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	return nil
}

// ResolveTimeout returns the configured resolution timeout as a Duration.
// Zero means "use the resolver default".
func (c *Config) ResolveTimeout() time.Duration {
	return time.Duration(c.Resolve.TimeoutSeconds * float64(time.Second))
}
