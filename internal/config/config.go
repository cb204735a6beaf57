// Package config holds the YAML configuration for the rehearsal toolkit:
// the mock server, the scenario harness, and logging. Values load from a
// file when one exists, then environment variables override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rehearsal/internal/protocol"
)

// Config holds all rehearsal configuration.
type Config struct {
	// Mock server settings
	Server ServerConfig `yaml:"server"`

	// Scenario loading
	Scenarios ScenariosConfig `yaml:"scenarios"`

	// Harness defaults
	Harness HarnessConfig `yaml:"harness"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the mock chat server.
type ServerConfig struct {
	// Listen address for the HTTP/WebSocket surface.
	Addr string `yaml:"addr"`

	// Script the server runs for incoming messages: echo, streamer,
	// agent, flaky, silent.
	Script string `yaml:"script"`

	// Seed for the deterministic parts of scripted traffic.
	Seed int64 `yaml:"seed"`

	// Locale for server-authored strings.
	Locale string `yaml:"locale"`

	// AuthRequired gates the WebSocket endpoint behind bearer tokens.
	AuthRequired bool `yaml:"auth_required"`

	// SigningKey verifies bearer tokens. Empty means the shared static
	// fixture key.
	SigningKey string `yaml:"signing_key"`

	// StreamChunkDelay spaces out stream_chunk envelopes.
	StreamChunkDelay string `yaml:"stream_chunk_delay"`

	// FailureRate is the probability, 0 to 1, that the flaky script
	// fails a given message.
	FailureRate float64 `yaml:"failure_rate"`
}

// ScenariosConfig configures scenario file loading.
type ScenariosConfig struct {
	// Dir holds *.yaml scenario files.
	Dir string `yaml:"dir"`
}

// HarnessConfig configures scenario runs.
type HarnessConfig struct {
	// Clients is the number of concurrent connections in a load run.
	Clients int `yaml:"clients"`

	// Timeout bounds a single scenario run.
	Timeout string `yaml:"timeout"`

	// Reconnect backoff schedule.
	BackoffBase string `yaml:"backoff_base"`
	BackoffMax  string `yaml:"backoff_max"`

	// Heartbeat schedule.
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	HeartbeatGrace    string `yaml:"heartbeat_grace"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             "127.0.0.1:8765",
			Script:           "echo",
			Seed:             1,
			Locale:           "en",
			StreamChunkDelay: "10ms",
			FailureRate:      0.25,
		},
		Scenarios: ScenariosConfig{
			Dir: "scenarios",
		},
		Harness: HarnessConfig{
			Clients:           1,
			Timeout:           "30s",
			BackoffBase:       "500ms",
			BackoffMax:        "30s",
			HeartbeatInterval: "30s",
			HeartbeatGrace:    "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. A .env file in the working directory is folded into the
// environment before overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			_ = godotenv.Load()
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	_ = godotenv.Load()
	cfg.applyEnvOverrides()

	return cfg, cfg.Validate()
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("REHEARSAL_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if script := os.Getenv("REHEARSAL_SCRIPT"); script != "" {
		c.Server.Script = script
	}
	if key := os.Getenv("REHEARSAL_SIGNING_KEY"); key != "" {
		c.Server.SigningKey = key
		c.Server.AuthRequired = true
	}
	if seed := os.Getenv("REHEARSAL_SEED"); seed != "" {
		if n, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Server.Seed = n
		}
	}
	if dir := os.Getenv("REHEARSAL_SCENARIO_DIR"); dir != "" {
		c.Scenarios.Dir = dir
	}
	if level := os.Getenv("REHEARSAL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects configurations the toolkit cannot run with.
func (c *Config) Validate() error {
	switch c.Server.Script {
	case "echo", "streamer", "agent", "flaky", "silent":
	default:
		return fmt.Errorf("unknown server script %q", c.Server.Script)
	}
	if c.Server.FailureRate < 0 || c.Server.FailureRate > 1 {
		return fmt.Errorf("failure_rate %v outside [0, 1]", c.Server.FailureRate)
	}
	if c.Harness.Clients < 1 {
		return fmt.Errorf("harness needs at least one client, got %d", c.Harness.Clients)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// GetTimeout returns the harness timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Harness.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetStreamChunkDelay returns the delay between stream chunks.
func (c *Config) GetStreamChunkDelay() time.Duration {
	d, err := time.ParseDuration(c.Server.StreamChunkDelay)
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// GetBackoff returns the reconnect backoff schedule.
func (c *Config) GetBackoff() protocol.Backoff {
	b := protocol.DefaultBackoff()
	if d, err := time.ParseDuration(c.Harness.BackoffBase); err == nil {
		b.Base = d
	}
	if d, err := time.ParseDuration(c.Harness.BackoffMax); err == nil {
		b.Max = d
	}
	return b
}

// GetHeartbeat returns the heartbeat schedule.
func (c *Config) GetHeartbeat() protocol.Heartbeat {
	h := protocol.DefaultHeartbeat()
	if d, err := time.ParseDuration(c.Harness.HeartbeatInterval); err == nil {
		h.Interval = d
	}
	if d, err := time.ParseDuration(c.Harness.HeartbeatGrace); err == nil {
		h.Grace = d
	}
	return h
}
