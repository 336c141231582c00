// Package config loads the doc-cache configuration file.
//
// Files ending in .toml are parsed as TOML, anything else as YAML. Fields
// missing from the file keep the values from Default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	doccache "github.com/wolfeidau/doc-cache"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory     = "memory"
	DriverBolt       = "bolt"
	DriverSQLite     = "sqlite"
	DriverFilesystem = "filesystem"
)

// Config is the top-level configuration.
type Config struct {
	Cache   CacheConfig   `yaml:"cache" toml:"cache"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Reaper  ReaperConfig  `yaml:"reaper" toml:"reaper"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// CacheConfig configures the durable cache.
type CacheConfig struct {
	// Capacity is the maximum number of entries held in memory.
	Capacity int `yaml:"capacity" toml:"capacity"`

	// Namespace isolates this cache's keys in a shared store.
	Namespace string `yaml:"namespace" toml:"namespace"`

	// DefaultTTL applies to Set. Zero means entries never expire.
	DefaultTTL Duration `yaml:"default_ttl" toml:"default_ttl"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	// Driver is one of memory, bolt, sqlite or filesystem.
	Driver string `yaml:"driver" toml:"driver"`

	// Path is the database file (bolt), DSN (sqlite) or directory (filesystem).
	Path string `yaml:"path" toml:"path"`

	// Quota limits stored bytes. Zero means unlimited.
	Quota int64 `yaml:"quota" toml:"quota"`

	// NoSync skips fsync after bolt commits.
	NoSync bool `yaml:"no_sync" toml:"no_sync"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address" toml:"address"`

	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string `yaml:"auth_token" toml:"auth_token"`

	// Origin is a base URL used to fill cache misses. Empty disables it.
	Origin string `yaml:"origin" toml:"origin"`

	// OriginTimeout bounds each origin request.
	OriginTimeout Duration `yaml:"origin_timeout" toml:"origin_timeout"`

	// CredentialsFile is a credentials template providing the auth token
	// and origin credentials. Values from it override AuthToken.
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
}

// ReaperConfig configures background removal of expired entries.
type ReaperConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Interval Duration `yaml:"interval" toml:"interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`

	// Format is text or json.
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	OTLPEndpoint   string   `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Prometheus     bool     `yaml:"prometheus" toml:"prometheus"`
	ExportInterval Duration `yaml:"export_interval" toml:"export_interval"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Capacity:  1000,
			Namespace: "docs",
		},
		Storage: StorageConfig{
			Driver: DriverBolt,
			Path:   "./cache/doc-cache.db",
		},
		Server: ServerConfig{
			Address:       ":8080",
			OriginTimeout: Duration(30 * time.Second),
		},
		Reaper: ReaperConfig{
			Enabled:  true,
			Interval: Duration(time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ExportInterval: Duration(10 * time.Second),
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(raw, &cfg)
	default:
		err = yaml.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the cache cannot run with.
func (c Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("%w: cache.capacity must be positive, got %d", doccache.ErrInvalidConfig, c.Cache.Capacity)
	}
	if err := doccache.ValidateNamespace(c.Cache.Namespace); err != nil {
		return fmt.Errorf("cache.namespace: %w", err)
	}
	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("%w: cache.default_ttl must not be negative", doccache.ErrInvalidConfig)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBolt, DriverSQLite, DriverFilesystem:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("%w: storage.path is required for driver %s", doccache.ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", doccache.ErrInvalidConfig, c.Storage.Driver)
	}
	if c.Storage.Quota < 0 {
		return fmt.Errorf("%w: storage.quota must not be negative", doccache.ErrInvalidConfig)
	}

	if c.Server.OriginTimeout < 0 {
		return fmt.Errorf("%w: server.origin_timeout must not be negative", doccache.ErrInvalidConfig)
	}
	if c.Reaper.Interval < 0 {
		return fmt.Errorf("%w: reaper.interval must not be negative", doccache.ErrInvalidConfig)
	}
	if c.Metrics.ExportInterval < 0 {
		return fmt.Errorf("%w: metrics.export_interval must not be negative", doccache.ErrInvalidConfig)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log.level %q", doccache.ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log.format %q", doccache.ErrInvalidConfig, c.Log.Format)
	}
	return nil
}
