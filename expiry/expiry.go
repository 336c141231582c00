// Package expiry removes expired and undecodable entries from a durable
// store in the background.
//
// A durable.Cache only deletes an expired entry when it is accessed, so
// entries that are never read again would otherwise stay in the store until
// the next reload of their namespace. The Reaper sweeps them periodically.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	doccache "github.com/wolfeidau/doc-cache"
	"github.com/wolfeidau/doc-cache/backend"
	"github.com/wolfeidau/doc-cache/store/envelope"
	"github.com/wolfeidau/doc-cache/telemetry"
)

// Config holds reaper configuration.
type Config struct {
	// Namespaces lists the namespaces to sweep. At least one is required.
	Namespaces []string

	// KeepCorrupt counts undecodable entries without deleting them. Set it
	// when sweeping namespaces written by something other than a cache.
	KeepCorrupt bool

	// Interval is how often to sweep.
	// Default is 1 hour.
	Interval time.Duration

	// Lock, if set, is held around each entry's check and delete. Share it
	// with the caches writing to the store so a fresh write is never
	// deleted by a sweep that read the old value.
	Lock sync.Locker

	// Logger for reaper events.
	Logger *slog.Logger
}

// Reaper deletes expired and corrupt entries on a schedule.
type Reaper struct {
	config Config
	store  backend.Store
	codec  *envelope.Codec
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReaper creates a reaper over store.
func NewReaper(store backend.Store, cfg Config) (*Reaper, error) {
	if len(cfg.Namespaces) == 0 {
		return nil, fmt.Errorf("%w: reaper needs at least one namespace", doccache.ErrInvalidConfig)
	}
	for _, ns := range cfg.Namespaces {
		if err := doccache.ValidateNamespace(ns); err != nil {
			return nil, err
		}
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: reaper interval must not be negative", doccache.ErrInvalidConfig)
	}
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	codec, err := envelope.Default()
	if err != nil {
		return nil, fmt.Errorf("creating envelope codec: %w", err)
	}

	return &Reaper{
		config: cfg,
		store:  store,
		codec:  codec,
		logger: cfg.Logger.With("component", "reaper"),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins background sweeps. The first sweep runs immediately.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped || r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Stop stops background sweeps and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// Result contains the results of a sweep.
type Result struct {
	Scanned    int
	Expired    int
	Corrupt    int
	Kept       int // undecodable but left in place
	BytesFreed int64
	Errors     int
	Duration   time.Duration
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) *Result {
	return r.runOnce(ctx)
}

func (r *Reaper) runOnce(ctx context.Context) *Result {
	start := r.now()
	result := &Result{}

	for _, ns := range r.config.Namespaces {
		if ctx.Err() != nil {
			break
		}
		r.sweep(telemetry.WithNamespaceContext(ctx, ns), ns, result)
	}

	result.Duration = r.now().Sub(start)
	telemetry.RecordReaperCycle(ctx, result.Expired+result.Corrupt, result.Duration)

	if result.Expired > 0 || result.Corrupt > 0 {
		r.logger.Info("sweep complete",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"corrupt", result.Corrupt,
			"kept", result.Kept,
			"bytes_freed", result.BytesFreed,
			"duration", result.Duration,
		)
	} else {
		r.logger.Debug("sweep complete, nothing to remove", "scanned", result.Scanned)
	}

	return result
}

func (r *Reaper) sweep(ctx context.Context, ns string, result *Result) {
	keys, err := r.store.List(ctx, doccache.NamespacePrefix(ns))
	if err != nil {
		r.logger.Error("failed to list namespace", "namespace", ns, "error", err)
		result.Errors++
		return
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		r.check(ctx, key, result)
	}
}

func (r *Reaper) check(ctx context.Context, key string, result *Result) {
	if r.config.Lock != nil {
		r.config.Lock.Lock()
		defer r.config.Lock.Unlock()
	}

	data, err := r.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			r.logger.Warn("failed to read entry", "key", key, "error", err)
			result.Errors++
		}
		return
	}
	result.Scanned++

	reason := ""
	entry, err := r.codec.Decode(data)
	switch {
	case err != nil:
		reason = "corrupt"
	case entry.Expired(r.now()):
		reason = "expired"
	default:
		return
	}

	if reason == "corrupt" && r.config.KeepCorrupt {
		result.Kept++
		r.logger.Debug("keeping undecodable entry", "key", key)
		return
	}

	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.Warn("failed to delete entry", "key", key, "reason", reason, "error", err)
		result.Errors++
		return
	}

	if reason == "corrupt" {
		result.Corrupt++
	} else {
		result.Expired++
	}
	result.BytesFreed += int64(len(key) + len(data))

	ns := telemetry.NamespaceFromContext(ctx)
	telemetry.RecordEviction(ctx, ns, reason, 1)
	r.logger.Debug("removed entry", "namespace", ns, "key", key, "reason", reason)
}
