package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wolfeidau/doc-cache/backend"
	"github.com/wolfeidau/doc-cache/config"
	"github.com/wolfeidau/doc-cache/store/durable"
)

// env is what every command works with.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  backend.Store
	closer io.Closer
	errs   []error
}

func (g *Globals) open(ctx context.Context) (*env, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, closer, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		store:  backend.NewInstrumented(store, cfg.Storage.Driver),
		closer: closer,
	}, nil
}

func (e *env) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// newCache reloads the configured namespace. Out-of-band storage failures
// are collected in e.errs.
func (e *env) newCache(ctx context.Context) (*durable.Cache[[]byte], error) {
	return durable.New[[]byte](ctx, e.store, durable.BytesCodec{}, durable.Config[[]byte]{
		Capacity:   e.cfg.Cache.Capacity,
		Namespace:  e.cfg.Cache.Namespace,
		DefaultTTL: e.cfg.Cache.DefaultTTL.Std(),
		OnError:    func(err error) { e.errs = append(e.errs, err) },
		Logger:     e.logger.With("component", "cache"),
	})
}

// storageErr reports the out-of-band failures seen since the cache was created.
func (e *env) storageErr() error {
	return errors.Join(e.errs...)
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (backend.Store, io.Closer, error) {
	logger = logger.With("component", "store", "driver", cfg.Driver)

	switch cfg.Driver {
	case config.DriverMemory:
		return backend.NewMemory(cfg.Quota), nil, nil

	case config.DriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating storage directory: %w", err)
		}
		b, err := backend.OpenBolt(cfg.Path,
			backend.WithBoltLogger(logger),
			backend.WithBoltQuota(cfg.Quota),
			backend.WithNoSync(cfg.NoSync),
		)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil

	case config.DriverSQLite:
		s, err := backend.OpenSQLite(ctx, cfg.Path,
			backend.WithSQLiteLogger(logger),
			backend.WithSQLiteQuota(cfg.Quota),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.DriverFilesystem:
		fs, err := backend.NewFilesystem(cfg.Path,
			backend.WithFilesystemLogger(logger),
			backend.WithFilesystemQuota(cfg.Quota),
		)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func parseTTL(raw string) (time.Duration, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid ttl: %w", err)
	}
	if ttl < 0 {
		return 0, false, fmt.Errorf("invalid ttl: must not be negative")
	}
	return ttl, true, nil
}
