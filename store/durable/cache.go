// Package durable layers write-through persistence, expiry and quota
// handling over an lru.Cache.
//
// On construction the cache reloads every entry stored under its namespace,
// deleting corrupt and expired entries and keeping the most recently written
// ones up to capacity. Afterwards the in-memory cache serves reads; the store
// is touched on writes, on deletes, and when a key misses in memory.
//
// Storage failures never fail the caller. They are logged and passed to
// Config.OnError, and the in-memory state stays authoritative for the life of
// the process.
//
// A Cache is not safe for concurrent use; callers serialise access. The
// backend.Store may be shared with other caches.
package durable

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	doccache "github.com/wolfeidau/doc-cache"
	"github.com/wolfeidau/doc-cache/backend"
	"github.com/wolfeidau/doc-cache/store/envelope"
	"github.com/wolfeidau/doc-cache/store/lru"
	"github.com/wolfeidau/doc-cache/telemetry"
)

// Config configures a Cache.
type Config[V any] struct {
	// Capacity is the maximum number of entries held in memory. Required.
	Capacity int

	// Namespace prefixes every storage key. Required, must not contain ":".
	Namespace string

	// DefaultTTL applies to Set. Zero means entries never expire.
	DefaultTTL time.Duration

	// SizeEstimator overrides the memory estimate for a value. By default
	// an entry is charged its encoded size.
	SizeEstimator lru.SizeEstimator[V]

	// OnError receives storage failures that are not returned to callers.
	// Errors are *OpError values.
	OnError func(error)

	// Envelope is the entry codec. Defaults to envelope.Default().
	Envelope *envelope.Codec

	// Logger is the logger for the cache. Defaults to slog.Default().
	Logger *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Entry is a point-in-time copy of one cached entry.
type Entry[V any] struct {
	Key            string
	Value          V
	Size           int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time // zero means never
}

// Stats reports counters since the cache was created.
type Stats struct {
	Namespace      string    `json:"namespace"`
	Len            int       `json:"len"`
	Capacity       int       `json:"capacity"`
	MemoryUsage    int64     `json:"memory_usage"`
	Hits           uint64    `json:"hits"`
	Misses         uint64    `json:"misses"`
	ReadThrough    uint64    `json:"read_through"`
	Expired        uint64    `json:"expired"`
	Corrupt        uint64    `json:"corrupt"`
	Evictions      uint64    `json:"evictions"`
	QuotaEvictions uint64    `json:"quota_evictions"`
	DurableWrites  uint64    `json:"durable_writes"`
	WriteFailures  uint64    `json:"write_failures"`
	Dirty          int       `json:"dirty"`
	PendingDeletes int       `json:"pending_deletes"`
	Load           LoadStats `json:"load"`
}

// LoadStats summarises the reload performed by New.
type LoadStats struct {
	Loaded   int           `json:"loaded"`
	Dropped  int           `json:"dropped"`
	Expired  int           `json:"expired"`
	Corrupt  int           `json:"corrupt"`
	Duration time.Duration `json:"duration"`
}

type record[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

func (r *record[V]) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// written describes a durable entry this cache loaded or wrote.
type written struct {
	createdAt time.Time
	size      int64 // storage key plus encoded value
}

// Cache is a namespaced, write-through, expiring cache over a backend.Store.
type Cache[V any] struct {
	store     backend.Store
	codec     Codec[V]
	env       *envelope.Codec
	mem       *lru.Cache[*record[V]]
	namespace string
	prefix    string
	ttl       time.Duration
	estimate  lru.SizeEstimator[V]
	onError   func(error)
	logger    *slog.Logger
	now       func() time.Time

	// ledger holds durable entries known this session, for quota relief.
	ledger map[string]written
	// dirty holds keys whose last durable write failed.
	dirty map[string]struct{}
	// pendingDeletes holds keys whose durable delete failed.
	pendingDeletes map[string]struct{}
	// clearPending is set when Clear could not list the namespace. Stored
	// entries not written since then are treated as deleted.
	clearPending bool

	stats Stats
}

// New creates a cache over store and reloads the namespace from it.
// Configuration mistakes return an error wrapping doccache.ErrInvalidConfig;
// storage failures during the reload are reported through OnError and
// leave the cache empty or partially loaded.
func New[V any](ctx context.Context, store backend.Store, codec Codec[V], cfg Config[V]) (*Cache[V], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", doccache.ErrInvalidConfig)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: codec is required", doccache.ErrInvalidConfig)
	}
	if funcs, ok := codec.(CodecFuncs[V]); ok && !funcs.complete() {
		return nil, fmt.Errorf("%w: codec functions are required", doccache.ErrInvalidConfig)
	}
	if err := doccache.ValidateNamespace(cfg.Namespace); err != nil {
		return nil, err
	}
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("%w: default TTL must not be negative, got %s", doccache.ErrInvalidConfig, cfg.DefaultTTL)
	}

	c := &Cache[V]{
		store:          store,
		codec:          codec,
		env:            cfg.Envelope,
		namespace:      cfg.Namespace,
		prefix:         doccache.NamespacePrefix(cfg.Namespace),
		ttl:            cfg.DefaultTTL,
		estimate:       cfg.SizeEstimator,
		onError:        cfg.OnError,
		logger:         cfg.Logger,
		now:            cfg.Now,
		ledger:         make(map[string]written),
		dirty:          make(map[string]struct{}),
		pendingDeletes: make(map[string]struct{}),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "durable", "namespace", cfg.Namespace)
	if c.now == nil {
		c.now = time.Now
	}
	if c.env == nil {
		env, err := envelope.Default()
		if err != nil {
			return nil, fmt.Errorf("creating envelope codec: %w", err)
		}
		c.env = env
	}

	mem, err := lru.New(cfg.Capacity,
		lru.WithNow[*record[V]](c.now),
		lru.WithOnEvict(func(key string, _ *record[V]) {
			c.logger.Debug("evicted from memory", "key", key)
			telemetry.RecordEviction(context.Background(), c.namespace, "capacity", 1)
		}),
	)
	if err != nil {
		return nil, err
	}
	c.mem = mem

	c.load(ctx)
	return c, nil
}

type candidate[V any] struct {
	key  string
	rec  *record[V]
	size int64
}

// load enumerates the namespace, self-heals corrupt and expired entries, and
// admits the newest entries up to capacity.
func (c *Cache[V]) load(ctx context.Context) {
	start := time.Now()
	now := c.now()

	keys, err := c.store.List(ctx, c.prefix)
	if err != nil {
		c.report(ctx, "load", "", err)
		return
	}

	var candidates []candidate[V]
	for _, storageKey := range keys {
		key, ok := doccache.TrimNamespace(c.namespace, storageKey)
		if !ok {
			continue
		}

		data, err := c.store.Get(ctx, storageKey)
		if err != nil {
			if !errors.Is(err, backend.ErrNotFound) {
				c.report(ctx, "load", key, err)
			}
			continue
		}

		rec, err := c.decode(data)
		if err != nil {
			c.stats.Load.Corrupt++
			c.heal(ctx, key, err)
			continue
		}
		if rec.expired(now) {
			c.stats.Load.Expired++
			c.stats.Expired++
			c.expire(ctx, key)
			continue
		}

		size := int64(len(storageKey) + len(data))
		c.ledger[key] = written{createdAt: rec.createdAt, size: size}
		candidates = append(candidates, candidate[V]{key: key, rec: rec, size: c.sizeOf(key, rec.value, len(data))})
	}

	// newest first, key order for identical timestamps
	slices.SortFunc(candidates, func(a, b candidate[V]) int {
		if n := b.rec.createdAt.Compare(a.rec.createdAt); n != 0 {
			return n
		}
		return cmp.Compare(a.key, b.key)
	})

	keep := min(len(candidates), c.mem.Capacity())
	// insert oldest of the kept set first so the newest ends up most recently used
	for i := keep - 1; i >= 0; i-- {
		cand := candidates[i]
		c.mem.SetWithSize(cand.key, cand.rec, cand.size)
	}

	c.stats.Load.Loaded = keep
	c.stats.Load.Dropped = len(candidates) - keep
	c.stats.Load.Duration = time.Since(start)

	telemetry.RecordReload(ctx, c.namespace, telemetry.ReloadStats{
		Loaded:  c.stats.Load.Loaded,
		Dropped: c.stats.Load.Dropped,
		Expired: c.stats.Load.Expired,
		Corrupt: c.stats.Load.Corrupt,
	}, c.stats.Load.Duration)
	c.publishState(ctx)

	c.logger.Debug("loaded namespace",
		"loaded", c.stats.Load.Loaded,
		"dropped", c.stats.Load.Dropped,
		"expired", c.stats.Load.Expired,
		"corrupt", c.stats.Load.Corrupt,
		"duration", c.stats.Load.Duration,
	)
}

// Get returns the value for key. Expired entries are deleted from memory and
// the store and reported as absent. A key missing from memory is read from
// the store and admitted when valid.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	now := c.now()

	if rec, ok := c.mem.Peek(key); ok {
		if rec.expired(now) {
			c.mem.Delete(key)
			c.stats.Expired++
			c.expire(ctx, key)
			c.lookup(ctx, telemetry.CacheExpired)
			c.publishState(ctx)
			return zero, false
		}
		c.mem.Get(key)
		c.lookup(ctx, telemetry.CacheHit)
		return rec.value, true
	}

	rec, size, result := c.readThrough(ctx, key, now)
	if result != telemetry.CacheHit {
		c.lookup(ctx, result)
		return zero, false
	}

	c.mem.SetWithSize(key, rec, size)
	c.stats.ReadThrough++
	c.lookup(ctx, telemetry.CacheHit)
	c.publishState(ctx)
	return rec.value, true
}

// Has reports whether key holds a live entry in memory or in the store.
// It does not affect recency and does not load store entries into memory.
func (c *Cache[V]) Has(ctx context.Context, key string) bool {
	now := c.now()

	if rec, ok := c.mem.Peek(key); ok {
		if rec.expired(now) {
			c.mem.Delete(key)
			c.stats.Expired++
			c.expire(ctx, key)
			c.publishState(ctx)
			return false
		}
		return true
	}

	_, _, result := c.readThrough(ctx, key, now)
	return result == telemetry.CacheHit
}

// readThrough loads key from the store, deleting it when corrupt or expired.
func (c *Cache[V]) readThrough(ctx context.Context, key string, now time.Time) (*record[V], int64, telemetry.CacheResult) {
	if c.deleted(key) {
		return nil, 0, telemetry.CacheMiss
	}

	data, err := c.store.Get(ctx, doccache.StorageKey(c.namespace, key))
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			c.report(ctx, "load", key, err)
		}
		return nil, 0, telemetry.CacheMiss
	}

	rec, err := c.decode(data)
	if err != nil {
		c.heal(ctx, key, err)
		return nil, 0, telemetry.CacheCorrupt
	}
	if rec.expired(now) {
		c.stats.Expired++
		c.expire(ctx, key)
		return nil, 0, telemetry.CacheExpired
	}

	c.ledger[key] = written{
		createdAt: rec.createdAt,
		size:      int64(len(doccache.StorageKey(c.namespace, key)) + len(data)),
	}
	return rec, c.sizeOf(key, rec.value, len(data)), telemetry.CacheHit
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(ctx context.Context, key string, value V) {
	c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores value under key, expiring after ttl. A ttl of zero or
// less means the entry never expires. The in-memory write always happens;
// the durable write failing is reported through OnError.
func (c *Cache[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) {
	now := c.now()
	rec := &record[V]{value: value, createdAt: now}
	if ttl > 0 {
		rec.expiresAt = now.Add(ttl)
	}
	delete(c.pendingDeletes, key)

	data, err := c.encode(rec)
	if err != nil {
		c.mem.SetWithSize(key, rec, c.sizeOf(key, value, -1))
		c.publishState(ctx)
		c.stats.WriteFailures++
		delete(c.dirty, key)
		telemetry.RecordDurableWrite(ctx, c.namespace, "serialization_error", 0)
		c.report(ctx, "write", key, err)
		// an older persisted value must not outlive this write
		c.removeDurable(ctx, key)
		return
	}

	c.mem.SetWithSize(key, rec, c.sizeOf(key, value, len(data)))
	c.publishState(ctx)
	_ = c.persist(ctx, key, rec.createdAt, data)
}

// persist writes data for key, freeing quota once if the store is full.
// Failures are reported and the key is marked dirty.
func (c *Cache[V]) persist(ctx context.Context, key string, createdAt time.Time, data []byte) error {
	storageKey := doccache.StorageKey(c.namespace, key)
	size := int64(len(storageKey) + len(data))

	err := c.store.Put(ctx, storageKey, data)
	if errors.Is(err, backend.ErrQuotaExceeded) {
		if c.relieve(ctx, key, size) > 0 {
			err = c.store.Put(ctx, storageKey, data)
		}
	}
	if err != nil {
		c.dirty[key] = struct{}{}
		c.stats.WriteFailures++
		outcome := "error"
		if errors.Is(err, backend.ErrQuotaExceeded) {
			outcome = "quota_exceeded"
		}
		telemetry.RecordDurableWrite(ctx, c.namespace, outcome, 0)
		c.report(ctx, "write", key, err)
		return err
	}

	delete(c.dirty, key)
	c.ledger[key] = written{createdAt: createdAt, size: size}
	c.stats.DurableWrites++
	telemetry.RecordDurableWrite(ctx, c.namespace, "success", int64(len(data)))
	return nil
}

// relieve deletes the oldest durable entries this cache knows about, other
// than key, to make room for an item of need bytes. At least one entry is
// removed when any is available. It returns the number removed.
func (c *Cache[V]) relieve(ctx context.Context, key string, need int64) int {
	type victim struct {
		key string
		written
	}
	victims := make([]victim, 0, len(c.ledger))
	for k, w := range c.ledger {
		if k != key {
			victims = append(victims, victim{key: k, written: w})
		}
	}
	slices.SortFunc(victims, func(a, b victim) int {
		if n := a.createdAt.Compare(b.createdAt); n != 0 {
			return n
		}
		return cmp.Compare(a.key, b.key)
	})

	// shortfall is how many bytes must still be freed. Victims may already
	// be gone from the store, so usage is reread when the store reports it.
	reporter, _ := c.store.(backend.UsageReporter)
	old := c.ledger[key].size
	shortfall := func(freed int64) int64 {
		if reporter != nil {
			if u, err := reporter.Usage(ctx); err == nil && u.QuotaBytes > 0 {
				return u.UsedBytes - old + need - u.QuotaBytes
			}
		}
		return need - freed
	}

	var (
		freed   int64
		removed int
	)
	for _, v := range victims {
		if removed > 0 && shortfall(freed) <= 0 {
			break
		}
		if err := c.store.Delete(ctx, doccache.StorageKey(c.namespace, v.key)); err != nil {
			c.report(ctx, "relieve", v.key, err)
			continue
		}
		delete(c.ledger, v.key)
		freed += v.size
		removed++
		c.logger.Info("deleted durable entry to free quota", "key", v.key, "bytes", v.size)
	}

	c.stats.QuotaEvictions += uint64(removed)
	telemetry.RecordEviction(ctx, c.namespace, "quota", removed)
	return removed
}

// Delete removes key from memory and the store and reports whether it was
// present in either. A failed durable delete is reported through OnError and
// retried by Flush.
func (c *Cache[V]) Delete(ctx context.Context, key string) bool {
	present := c.mem.Delete(key)
	if !present {
		if _, ok := c.ledger[key]; ok {
			present = true
		} else if !c.deleted(key) {
			_, err := c.store.Get(ctx, doccache.StorageKey(c.namespace, key))
			present = err == nil
		}
	}
	delete(c.dirty, key)
	c.removeDurable(ctx, key)
	c.publishState(ctx)
	return present
}

// deleted reports whether a stored copy of key is stale: its durable delete
// failed, or a failed Clear left it behind.
func (c *Cache[V]) deleted(key string) bool {
	if _, ok := c.pendingDeletes[key]; ok {
		return true
	}
	if c.clearPending {
		_, ok := c.ledger[key]
		return !ok
	}
	return false
}

// removeDurable deletes key from the store, remembering failures.
func (c *Cache[V]) removeDurable(ctx context.Context, key string) {
	delete(c.ledger, key)
	if err := c.store.Delete(ctx, doccache.StorageKey(c.namespace, key)); err != nil {
		c.pendingDeletes[key] = struct{}{}
		c.report(ctx, "delete", key, err)
		return
	}
	delete(c.pendingDeletes, key)
}

// expire removes an expired entry from the store.
func (c *Cache[V]) expire(ctx context.Context, key string) {
	c.logger.Debug("entry expired", "key", key)
	telemetry.RecordEviction(ctx, c.namespace, "expired", 1)
	c.removeDurable(ctx, key)
}

// heal removes an undecodable entry from the store.
func (c *Cache[V]) heal(ctx context.Context, key string, cause error) {
	c.stats.Corrupt++
	c.logger.Info("deleting corrupt entry", "key", key, "error", cause)
	telemetry.RecordEviction(ctx, c.namespace, "corrupt", 1)
	c.removeDurable(ctx, key)
}

// Clear removes every entry in memory and every stored entry in the
// namespace, including entries never loaded into memory. If the namespace
// cannot be listed, stored entries stay hidden from reads and Flush retries
// the clear.
func (c *Cache[V]) Clear(ctx context.Context) error {
	known := make(map[string]struct{}, len(c.ledger)+len(c.pendingDeletes))
	for key := range c.ledger {
		known[key] = struct{}{}
	}
	for key := range c.pendingDeletes {
		known[key] = struct{}{}
	}

	c.mem.Clear()
	clear(c.ledger)
	clear(c.dirty)
	clear(c.pendingDeletes)
	c.publishState(ctx)

	keys, err := c.store.List(ctx, c.prefix)
	if err != nil {
		c.pendingDeletes = known
		c.clearPending = true
		return fmt.Errorf("listing namespace %s: %w", c.namespace, err)
	}
	c.clearPending = false
	return c.deleteStored(ctx, keys)
}

// deleteStored deletes the given storage keys, skipping keys written since
// the last Clear. Failures are remembered for Flush.
func (c *Cache[V]) deleteStored(ctx context.Context, storageKeys []string) error {
	var errs []error
	for _, storageKey := range storageKeys {
		key, ok := doccache.TrimNamespace(c.namespace, storageKey)
		if !ok {
			continue
		}
		if _, written := c.ledger[key]; written {
			continue
		}
		if err := c.store.Delete(ctx, storageKey); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", storageKey, err))
			c.pendingDeletes[key] = struct{}{}
			continue
		}
		delete(c.pendingDeletes, key)
	}
	return errors.Join(errs...)
}

// Flush retries durable deletes and writes that previously failed. Writes
// use the current in-memory value; keys no longer in memory are dropped.
func (c *Cache[V]) Flush(ctx context.Context) error {
	var errs []error

	if c.clearPending {
		keys, err := c.store.List(ctx, c.prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing namespace %s: %w", c.namespace, err))
		} else {
			c.clearPending = false
			// failures land in pendingDeletes, retried below
			_ = c.deleteStored(ctx, keys)
		}
	}

	for _, key := range sortedKeys(c.pendingDeletes) {
		if err := c.store.Delete(ctx, doccache.StorageKey(c.namespace, key)); err != nil {
			errs = append(errs, &OpError{Op: "delete", Namespace: c.namespace, Key: key, Err: err})
			continue
		}
		delete(c.pendingDeletes, key)
	}

	now := c.now()
	for _, key := range sortedKeys(c.dirty) {
		rec, ok := c.mem.Peek(key)
		if !ok || rec.expired(now) {
			delete(c.dirty, key)
			continue
		}
		data, err := c.encode(rec)
		if err != nil {
			delete(c.dirty, key)
			errs = append(errs, &OpError{Op: "write", Namespace: c.namespace, Key: key, Err: err})
			continue
		}
		if err := c.persist(ctx, key, rec.createdAt, data); err != nil {
			errs = append(errs, &OpError{Op: "write", Namespace: c.namespace, Key: key, Err: err})
		}
	}

	return errors.Join(errs...)
}

// Len returns the number of entries held in memory, including expired
// entries not yet removed.
func (c *Cache[V]) Len() int {
	return c.mem.Len()
}

// Capacity returns the maximum number of in-memory entries.
func (c *Cache[V]) Capacity() int {
	return c.mem.Capacity()
}

// MemoryUsage returns the sum of in-memory entry size estimates.
func (c *Cache[V]) MemoryUsage() int64 {
	return c.mem.MemoryUsage()
}

// Namespace returns the configured namespace.
func (c *Cache[V]) Namespace() string {
	return c.namespace
}

// Entries returns a most-recently-used-first snapshot of live in-memory
// entries. Expired entries are omitted.
func (c *Cache[V]) Entries() []Entry[V] {
	now := c.now()
	snapshot := c.mem.Entries()
	entries := make([]Entry[V], 0, len(snapshot))
	for _, e := range snapshot {
		if e.Value.expired(now) {
			continue
		}
		entries = append(entries, Entry[V]{
			Key:            e.Key,
			Value:          e.Value.value,
			Size:           e.Size,
			CreatedAt:      e.Value.createdAt,
			LastAccessedAt: e.LastAccessedAt,
			ExpiresAt:      e.Value.expiresAt,
		})
	}
	return entries
}

// Stats returns a copy of the cache counters.
func (c *Cache[V]) Stats() Stats {
	s := c.stats
	s.Namespace = c.namespace
	s.Len = c.mem.Len()
	s.Capacity = c.mem.Capacity()
	s.MemoryUsage = c.mem.MemoryUsage()
	s.Evictions = c.mem.Evictions()
	s.Dirty = len(c.dirty)
	s.PendingDeletes = len(c.pendingDeletes)
	return s
}

func (c *Cache[V]) encode(rec *record[V]) ([]byte, error) {
	payload, err := c.codec.Marshal(rec.value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	data, err := c.env.Encode(envelope.Entry{
		Payload:   payload,
		CreatedAt: rec.createdAt,
		ExpiresAt: rec.expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return data, nil
}

func (c *Cache[V]) decode(data []byte) (*record[V], error) {
	e, err := c.env.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	v, err := c.codec.Unmarshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding value: %w", ErrCorrupt, err)
	}
	return &record[V]{value: v, createdAt: e.CreatedAt, expiresAt: e.ExpiresAt}, nil
}

// sizeOf estimates the in-memory cost of an entry. encoded is the envelope
// length, or negative when the value could not be encoded.
func (c *Cache[V]) sizeOf(key string, value V, encoded int) int64 {
	switch {
	case c.estimate != nil:
		return c.estimate(value) + int64(len(key))
	case encoded >= 0:
		return int64(encoded + len(key))
	default:
		return lru.DefaultSizeEstimator(value) + int64(len(key))
	}
}

func (c *Cache[V]) lookup(ctx context.Context, result telemetry.CacheResult) {
	if result == telemetry.CacheHit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	telemetry.RecordCacheLookup(ctx, c.namespace, result)
}

func (c *Cache[V]) publishState(ctx context.Context) {
	telemetry.UpdateCacheState(ctx, c.namespace, c.mem.Len(), c.mem.Capacity(), c.mem.MemoryUsage())
}

func (c *Cache[V]) report(ctx context.Context, op, key string, err error) {
	opErr := &OpError{Op: op, Namespace: c.namespace, Key: key, Err: err}
	c.logger.Warn("durable store operation failed", "op", op, "key", key, "error", err)

	kind := op
	switch {
	case errors.Is(err, ErrSerialization):
		kind = "serialization"
	case errors.Is(err, backend.ErrQuotaExceeded):
		kind = "quota"
	}
	telemetry.RecordOutOfBandError(ctx, c.namespace, kind)

	if c.onError != nil {
		c.onError(opErr)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
