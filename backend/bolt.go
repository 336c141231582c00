package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// bucketEntries holds every stored item keyed by its full storage key.
var bucketEntries = []byte("doccache_entries")

// Bolt implements Store on a bbolt database.
type Bolt struct {
	db     *bbolt.DB
	owned  bool
	logger *slog.Logger
	noSync bool
	limit  int64

	mu    sync.Mutex // serialises quota check and commit across Update transactions
	quota quota
}

// BoltOption configures a Bolt store.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the store.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// WithBoltQuota limits total stored bytes. Zero means unlimited.
func WithBoltQuota(n int64) BoltOption {
	return func(b *Bolt) {
		b.limit = n
	}
}

// OpenBolt opens (or creates) a bbolt database at path and returns a store
// that closes it on Close.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := newBolt(opts...)

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b.db = db
	b.owned = true

	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	b.logger.Debug("opened bolt store", "path", path, "noSync", b.noSync)
	return b, nil
}

// NewBolt wraps an already open database. Close does not close db.
func NewBolt(db *bbolt.DB, opts ...BoltOption) (*Bolt, error) {
	b := newBolt(opts...)
	b.db = db
	if err := b.init(); err != nil {
		return nil, err
	}
	return b, nil
}

func newBolt(opts ...BoltOption) *Bolt {
	b := &Bolt{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.quota.limit = b.limit
	return b
}

// init creates the bucket and recomputes usage from what is on disk.
func (b *Bolt) init() error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketEntries, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var (
		used  int64
		items int
	)
	err = b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			items++
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("computing usage: %w", err)
	}
	b.quota.reset(used, items)
	return nil
}

// Close closes the database if this store opened it.
func (b *Bolt) Close() error {
	if !b.owned || b.db == nil {
		return nil
	}
	b.logger.Debug("closing bolt store")
	return b.db.Close()
}

// DB returns the underlying bbolt database.
func (b *Bolt) DB() *bbolt.DB {
	return b.db
}

// Get retrieves the value at key.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		data = bytes.Clone(v)
		return nil
	})
	return data, err
}

// Put stores value at key, enforcing the quota inside the write transaction.
func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		oldSize int64
		existed bool
	)
	newSize := itemSize(key, value)

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		if old := bucket.Get([]byte(key)); old != nil {
			oldSize, existed = int64(len(key)+len(old)), true
		}
		if !b.quota.fits(oldSize, newSize) {
			return ErrQuotaExceeded
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("writing %s: %w", key, err)
	}

	b.quota.commit(oldSize, newSize, existed)
	return nil
}

// Delete removes key.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64 = -1
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		old := bucket.Get([]byte(key))
		if old == nil {
			return nil
		}
		removed = int64(len(key) + len(old))
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if removed >= 0 {
		b.quota.release(removed)
	}
	return nil
}

// List returns all keys with the given prefix in lexical order.
func (b *Bolt) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	p := []byte(prefix)
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketEntries).Cursor()
		for k, _ := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cursor.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", prefix, err)
	}
	return keys, nil
}

// Usage returns the current quota usage.
func (b *Bolt) Usage(_ context.Context) (Usage, error) {
	return b.quota.usage(), nil
}

// Compile-time interface checks
var (
	_ Store         = (*Bolt)(nil)
	_ UsageReporter = (*Bolt)(nil)
)
