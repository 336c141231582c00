// Command doc-cache serves and maintains a durable documentation cache.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/wolfeidau/doc-cache/config"
)

var version = "dev"

// Globals are flags shared by every command. Empty or zero values leave
// the configuration file's setting in place.
type Globals struct {
	Config    string `short:"c" help:"Path to a YAML or TOML config file." type:"existingfile" env:"DOC_CACHE_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (text, json)."`
	Namespace string `short:"n" help:"Cache namespace."`
	Capacity  int    `help:"Maximum entries held in memory."`
	Driver    string `help:"Storage driver (memory, bolt, sqlite, filesystem)."`
	Path      string `help:"Storage path: bolt file, sqlite DSN or directory."`
	Quota     int64  `help:"Storage quota in bytes."`
}

// CLI is the command line interface.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve  ServeCmd  `cmd:"" help:"Run the HTTP server."`
	Get    GetCmd    `cmd:"" help:"Print a cached value."`
	Put    PutCmd    `cmd:"" help:"Store a value read from a file or stdin."`
	Delete DeleteCmd `cmd:"" help:"Delete a cached value."`
	List   ListCmd   `cmd:"" help:"List cached keys."`
	Clear  ClearCmd  `cmd:"" help:"Remove every entry in the namespace."`
	Flush  FlushCmd  `cmd:"" help:"Reload the namespace and retry pending durable writes."`
	Prune  PruneCmd  `cmd:"" help:"Remove expired and corrupt entries from the store."`
	Stats  StatsCmd  `cmd:"" help:"Show stored entry statistics."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("doc-cache"),
		kong.Description("A durable, namespaced cache for rendered documentation."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}

// load resolves the configuration: defaults, then the file, then flags.
func (g *Globals) load() (config.Config, error) {
	cfg := config.Default()
	if g.Config != "" {
		loaded, err := config.Load(g.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	if g.Namespace != "" {
		cfg.Cache.Namespace = g.Namespace
	}
	if g.Capacity != 0 {
		cfg.Cache.Capacity = g.Capacity
	}
	if g.Driver != "" {
		cfg.Storage.Driver = g.Driver
	}
	if g.Path != "" {
		cfg.Storage.Path = g.Path
	}
	if g.Quota != 0 {
		cfg.Storage.Quota = g.Quota
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	return slog.New(handler), nil
}
