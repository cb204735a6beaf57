package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Script != "echo" {
		t.Errorf("expected Script=echo, got %s", cfg.Server.Script)
	}
	if cfg.Harness.Clients != 1 {
		t.Errorf("expected Clients=1, got %d", cfg.Harness.Clients)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("REHEARSAL_ADDR", "")
	t.Setenv("REHEARSAL_SCRIPT", "")
	t.Setenv("REHEARSAL_SIGNING_KEY", "")

	path := filepath.Join(t.TempDir(), "rehearsal.yaml")

	cfg := DefaultConfig()
	cfg.Server.Script = "streamer"
	cfg.Server.Addr = "127.0.0.1:9900"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "streamer", loaded.Server.Script)
	assert.Equal(t, "127.0.0.1:9900", loaded.Server.Addr)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("REHEARSAL_SCRIPT", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("address and script", func(t *testing.T) {
		t.Setenv("REHEARSAL_ADDR", "0.0.0.0:7000")
		t.Setenv("REHEARSAL_SCRIPT", "agent")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "0.0.0.0:7000", cfg.Server.Addr)
		assert.Equal(t, "agent", cfg.Server.Script)
	})

	t.Run("signing key turns auth on", func(t *testing.T) {
		t.Setenv("REHEARSAL_SIGNING_KEY", "secret")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Server.AuthRequired)
		assert.Equal(t, "secret", cfg.Server.SigningKey)
	})

	t.Run("bad seed ignored", func(t *testing.T) {
		t.Setenv("REHEARSAL_SEED", "not-a-number")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, int64(1), cfg.Server.Seed)
	})
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown script", func(c *Config) { c.Server.Script = "chaos" }},
		{"failure rate above one", func(c *Config) { c.Server.FailureRate = 1.5 }},
		{"zero clients", func(c *Config) { c.Harness.Clients = 0 }},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.GetTimeout())
	assert.Equal(t, 10*time.Millisecond, cfg.GetStreamChunkDelay())

	cfg.Harness.Timeout = "garbage"
	assert.Equal(t, 30*time.Second, cfg.GetTimeout())

	cfg.Harness.BackoffBase = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.GetBackoff().Base)

	cfg.Harness.HeartbeatInterval = "5s"
	hb := cfg.GetHeartbeat()
	assert.Equal(t, 5*time.Second, hb.Interval)
	assert.Equal(t, 10*time.Second, hb.Grace)
}
