package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	doccache "github.com/wolfeidau/doc-cache"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "doc-cache.yaml", `
cache:
  capacity: 50
  namespace: guides
  default_ttl: 36h
storage:
  driver: sqlite
  path: /var/lib/doc-cache/cache.db
  quota: 1048576
reaper:
  interval: 15m
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 50, cfg.Cache.Capacity)
	require.Equal(t, "guides", cfg.Cache.Namespace)
	require.Equal(t, 36*time.Hour, cfg.Cache.DefaultTTL.Std())
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, int64(1048576), cfg.Storage.Quota)
	require.Equal(t, 15*time.Minute, cfg.Reaper.Interval.Std())
	require.Equal(t, "debug", cfg.Log.Level)

	// untouched fields keep their defaults
	require.Equal(t, "text", cfg.Log.Format)
	require.Equal(t, ":8080", cfg.Server.Address)
	require.True(t, cfg.Reaper.Enabled)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "doc-cache.toml", `
[cache]
capacity = 10
default_ttl = "1h30m"

[storage]
driver = "filesystem"
path = "/tmp/doc-cache"

[metrics]
prometheus = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Cache.Capacity)
	require.Equal(t, "docs", cfg.Cache.Namespace)
	require.Equal(t, 90*time.Minute, cfg.Cache.DefaultTTL.Std())
	require.Equal(t, DriverFilesystem, cfg.Storage.Driver)
	require.True(t, cfg.Metrics.Prometheus)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "cache:\n  default_ttl: soon\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "invalid duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadValidates(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "cache:\n  capacity: 0\n")
	_, err := Load(path)
	require.ErrorIs(t, err, doccache.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative capacity", func(c *Config) { c.Cache.Capacity = -1 }},
		{"empty namespace", func(c *Config) { c.Cache.Namespace = "" }},
		{"namespace with separator", func(c *Config) { c.Cache.Namespace = "a:b" }},
		{"negative ttl", func(c *Config) { c.Cache.DefaultTTL = Duration(-time.Second) }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"missing path", func(c *Config) { c.Storage.Path = "" }},
		{"negative quota", func(c *Config) { c.Storage.Quota = -1 }},
		{"negative origin timeout", func(c *Config) { c.Server.OriginTimeout = Duration(-time.Second) }},
		{"negative reaper interval", func(c *Config) { c.Reaper.Interval = Duration(-time.Minute) }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), doccache.ErrInvalidConfig)
		})
	}
}

func TestMemoryDriverNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Storage = StorageConfig{Driver: DriverMemory}
	require.NoError(t, cfg.Validate())
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		TTL Duration `yaml:"ttl"`
	}{TTL: Duration(2 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, "ttl: 2h0m0s\n", string(out))
}
