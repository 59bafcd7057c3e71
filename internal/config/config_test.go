package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Backend.BaseURL = "https://ads-backend.internal"
	cfg.Backend.Timeout = 90 * time.Second
	cfg.AdDefaults = models.AdConfig{FacebookPageID: "1234", Headline: "Spring sale"}
	require.NoError(t, cfg.Save(path))
	assert.True(t, Exists(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://ads-backend.internal", loaded.Backend.BaseURL)
	assert.Equal(t, 90*time.Second, loaded.Backend.Timeout)
	assert.Equal(t, cfg.AdDefaults, loaded.AdDefaults)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  base_url: http://example.test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", cfg.Backend.BaseURL)
	assert.Equal(t, "ws://localhost:5000/push", cfg.Backend.PushURL)
	assert.Equal(t, "8990", cfg.Server.Port)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	t.Setenv("FBADS_BACKEND_URL", "http://override.test")
	t.Setenv("FBADS_PUSH_URL", "wss://override.test/push")
	t.Setenv("FBADS_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override.test", cfg.Backend.BaseURL)
	assert.Equal(t, "wss://override.test/push", cfg.Backend.PushURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestGetConfigPathHonoursEnv(t *testing.T) {
	t.Setenv("FBADS_CONFIG_PATH", "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", GetConfigPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing base url", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"push url wrong scheme", func(c *Config) { c.Backend.PushURL = "http://x/push" }, "backend.push_url"},
		{"zero rate", func(c *Config) { c.Backend.RateLimit = 0 }, "rate_limit"},
		{"zero max files", func(c *Config) { c.Uploads.MaxFiles = 0 }, "max_files"},
		{"bad cron", func(c *Config) { c.Tasks.ReapSchedule = "every minute" }, "tasks.reap_schedule"},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	updated := DefaultConfig()
	updated.AdDefaults.Headline = "Reloaded"
	require.NoError(t, updated.Save(path))

	select {
	case c := <-changes:
		assert.Equal(t, "Reloaded", c.AdDefaults.Headline)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
