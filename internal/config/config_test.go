package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	// A named config file that doesn't exist is an error; use discovery
	// mode with no file present instead.
	require.Error(t, err)

	t.Chdir(t.TempDir())
	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "snipd.db", cfg.Database.DSN)

	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "./data/artifacts", cfg.Storage.ArtifactPath())
	assert.Equal(t, "./data/temp", cfg.Storage.TempPath())

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 6*time.Hour, cfg.Cache.Retention.Duration())
	assert.Equal(t, int64(2*1024*1024*1024), cfg.Cache.MaxTotalSize.Bytes())
	assert.Equal(t, "0 */10 * * * *", cfg.Cache.SweepCron)

	assert.Equal(t, 3, cfg.Extractor.MaxConcurrentJobs)
	assert.Equal(t, 100, cfg.Extractor.QueueLimit)
	assert.Equal(t, 5*time.Minute, cfg.Extractor.ProcessTimeout.Duration())
	assert.Equal(t, 5*time.Second, cfg.Extractor.RetryDelay.Duration())
	assert.Equal(t, time.Hour, cfg.Extractor.JobRetention.Duration())
	assert.Equal(t, 30*time.Minute, cfg.Extractor.MaxSnippetDuration.Duration())
	assert.Equal(t, "192k", cfg.Extractor.AudioBitrate)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
cache:
  retention: 2d
  max_total_size: 5GB
extractor:
  max_concurrent_jobs: 8
  process_timeout: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Cache.Retention.Duration())
	assert.Equal(t, int64(5*1024*1024*1024), cfg.Cache.MaxTotalSize.Bytes())
	assert.Equal(t, 8, cfg.Extractor.MaxConcurrentJobs)
	assert.Equal(t, 10*time.Minute, cfg.Extractor.ProcessTimeout.Duration())

	// Unset values keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 100, cfg.Extractor.QueueLimit)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SNIPD_SERVER_PORT", "7070")
	t.Setenv("SNIPD_EXTRACTOR_MAX_CONCURRENT_JOBS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Extractor.MaxConcurrentJobs)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"missing base dir", func(c *Config) { c.Storage.BaseDir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero concurrency", func(c *Config) { c.Extractor.MaxConcurrentJobs = 0 }},
		{"zero queue", func(c *Config) { c.Extractor.QueueLimit = 0 }},
		{"zero timeout", func(c *Config) { c.Extractor.ProcessTimeout = 0 }},
		{"zero snippet cap", func(c *Config) { c.Extractor.MaxSnippetDuration = 0 }},
		{"zero retention with cache on", func(c *Config) { c.Cache.Retention = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("zero retention allowed with cache off", func(t *testing.T) {
		cfg := valid(t)
		cfg.Cache.Enabled = false
		cfg.Cache.Retention = 0
		assert.NoError(t, cfg.Validate())
	})
}
