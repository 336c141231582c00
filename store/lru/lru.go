// Package lru implements a fixed-capacity, recency-ordered in-memory cache.
//
// Eviction is driven by entry count, not bytes: inserting a new key into a
// full cache evicts exactly one least-recently-used entry. Byte sizes are
// estimated per entry and only reported through MemoryUsage.
//
// A Cache is not safe for concurrent use; callers serialise access.
package lru

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	doccache "github.com/wolfeidau/doc-cache"
)

// entryOverhead is the size charged for values the default estimator cannot
// measure, and the fixed bookkeeping cost added to every entry.
const entryOverhead = 64

// SizeEstimator returns the approximate size of a value in bytes.
type SizeEstimator[V any] func(V) int64

// Entry is a point-in-time copy of one cached entry.
type Entry[V any] struct {
	Key            string
	Value          V
	Size           int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

type item[V any] struct {
	value          V
	size           int64
	createdAt      time.Time
	lastAccessedAt time.Time
}

// Cache is a bounded least-recently-used cache keyed by string.
type Cache[V any] struct {
	items    *simplelru.LRU[string, *item[V]]
	capacity int
	estimate SizeEstimator[V]
	onEvict  func(key string, value V)
	now      func() time.Time

	usage     int64
	evictions uint64
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithSizeEstimator overrides the default size heuristic.
func WithSizeEstimator[V any](fn SizeEstimator[V]) Option[V] {
	return func(c *Cache[V]) {
		if fn != nil {
			c.estimate = fn
		}
	}
}

// WithOnEvict registers a callback invoked for each entry removed to make
// room for a new key. It is not called for Delete or Clear.
func WithOnEvict[V any](fn func(key string, value V)) Option[V] {
	return func(c *Cache[V]) {
		c.onEvict = fn
	}
}

// WithNow sets the time function for testing.
func WithNow[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache holding at most capacity entries.
// A non-positive capacity is rejected with doccache.ErrInvalidConfig.
func New[V any](capacity int, opts ...Option[V]) (*Cache[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", doccache.ErrInvalidConfig, capacity)
	}

	c := &Cache[V]{
		capacity: capacity,
		estimate: DefaultSizeEstimator[V],
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	items, err := simplelru.NewLRU[string, *item[V]](capacity, c.release)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", doccache.ErrInvalidConfig, err)
	}
	c.items = items

	return c, nil
}

// release keeps the byte counter in step with every removal the underlying
// list performs (Remove, RemoveOldest, Purge).
func (c *Cache[V]) release(_ string, it *item[V]) {
	c.usage -= it.size
	if c.usage < 0 {
		c.usage = 0
	}
}

// Get returns the value for key and promotes it to most-recently-used.
// The boolean is false on a miss, which has no side effects.
func (c *Cache[V]) Get(key string) (V, bool) {
	it, ok := c.items.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	it.lastAccessedAt = c.now()
	return it.value, true
}

// Peek returns the value for key without changing its recency.
func (c *Cache[V]) Peek(key string) (V, bool) {
	it, ok := c.items.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set inserts or replaces key, estimating its size.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithSize(key, value, c.estimate(value)+int64(len(key)))
}

// SetWithSize inserts or replaces key using size as its byte estimate.
// Replacing an existing key never evicts; inserting a new key into a full
// cache evicts least-recently-used entries until there is room.
func (c *Cache[V]) SetWithSize(key string, value V, size int64) {
	if size < 0 {
		size = 0
	}
	now := c.now()
	next := &item[V]{
		value:          value,
		size:           size,
		createdAt:      now,
		lastAccessedAt: now,
	}

	if prev, ok := c.items.Peek(key); ok {
		// Add on an existing key swaps the value and moves it to the front
		// without invoking the release callback.
		c.usage += size - prev.size
		c.items.Add(key, next)
		return
	}

	for c.items.Len() >= c.capacity {
		k, it, ok := c.items.RemoveOldest()
		if !ok {
			break
		}
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(k, it.value)
		}
	}

	c.items.Add(key, next)
	c.usage += size
}

// Has reports whether key is present without affecting recency.
func (c *Cache[V]) Has(key string) bool {
	return c.items.Contains(key)
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	return c.items.Remove(key)
}

// Clear removes every entry. Capacity and options are preserved.
func (c *Cache[V]) Clear() {
	c.items.Purge()
	c.usage = 0
}

// Len returns the current number of entries.
func (c *Cache[V]) Len() int {
	return c.items.Len()
}

// Capacity returns the maximum number of entries, fixed at construction.
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// MemoryUsage returns the sum of all entry size estimates. It is advisory.
func (c *Cache[V]) MemoryUsage() int64 {
	return c.usage
}

// Evictions returns the number of entries removed to make room since the
// cache was created.
func (c *Cache[V]) Evictions() uint64 {
	return c.evictions
}

// Entries returns a snapshot of the cache in most-recently-used-first order.
// The snapshot is independent of later mutations and taking it does not
// change recency.
func (c *Cache[V]) Entries() []Entry[V] {
	keys := c.items.Keys() // oldest to newest
	entries := make([]Entry[V], 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		it, ok := c.items.Peek(keys[i])
		if !ok {
			continue
		}
		entries = append(entries, Entry[V]{
			Key:            keys[i],
			Value:          it.value,
			Size:           it.size,
			CreatedAt:      it.createdAt,
			LastAccessedAt: it.lastAccessedAt,
		})
	}
	return entries
}

// DefaultSizeEstimator measures strings and byte slices by length and
// charges a fixed overhead for anything else.
func DefaultSizeEstimator[V any](v V) int64 {
	switch x := any(v).(type) {
	case string:
		return int64(len(x)) + entryOverhead
	case []byte:
		return int64(len(x)) + entryOverhead
	default:
		return entryOverhead
	}
}
