package durable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	doccache "github.com/wolfeidau/doc-cache"
	"github.com/wolfeidau/doc-cache/backend"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// faultyStore fails selected operations on top of an in-memory store.
type faultyStore struct {
	*backend.Memory
	putErr    error
	deleteErr error
	listErr   error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: backend.NewMemory(0)}
}

func (f *faultyStore) Put(ctx context.Context, key string, value []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Memory.Put(ctx, key, value)
}

func (f *faultyStore) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Memory.Delete(ctx, key)
}

func (f *faultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Memory.List(ctx, prefix)
}

type testCache struct {
	*Cache[string]
	errs []error
}

func newTestCache(t *testing.T, store backend.Store, ns string, capacity int, clock *fakeClock, mutate ...func(*Config[string])) *testCache {
	t.Helper()
	tc := &testCache{}
	cfg := Config[string]{
		Capacity:  capacity,
		Namespace: ns,
		Now:       clock.Now,
		OnError:   func(err error) { tc.errs = append(tc.errs, err) },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New[string](context.Background(), store, StringCodec{}, cfg)
	require.NoError(t, err)
	tc.Cache = c
	return tc
}

func storeHas(t *testing.T, store backend.Store, ns, key string) bool {
	t.Helper()
	_, err := store.Get(context.Background(), doccache.StorageKey(ns, key))
	if errors.Is(err, backend.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func entryKeys[V any](entries []Entry[V]) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemory(0)

	tests := []struct {
		name  string
		store backend.Store
		codec Codec[string]
		cfg   Config[string]
	}{
		{"zero capacity", store, StringCodec{}, Config[string]{Capacity: 0, Namespace: "docs"}},
		{"negative capacity", store, StringCodec{}, Config[string]{Capacity: -1, Namespace: "docs"}},
		{"empty namespace", store, StringCodec{}, Config[string]{Capacity: 1}},
		{"namespace with separator", store, StringCodec{}, Config[string]{Capacity: 1, Namespace: "a:b"}},
		{"negative ttl", store, StringCodec{}, Config[string]{Capacity: 1, Namespace: "docs", DefaultTTL: -time.Second}},
		{"nil store", nil, StringCodec{}, Config[string]{Capacity: 1, Namespace: "docs"}},
		{"nil codec", store, nil, Config[string]{Capacity: 1, Namespace: "docs"}},
		{"codec without unmarshal", store, CodecFuncs[string]{MarshalFunc: StringCodec{}.Marshal}, Config[string]{Capacity: 1, Namespace: "docs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, tt.store, tt.codec, tt.cfg)
			require.ErrorIs(t, err, doccache.ErrInvalidConfig)
		})
	}
}

func TestSetGetWritesThrough(t *testing.T) {
	store := backend.NewMemory(0)
	c := newTestCache(t, store, "docs", 4, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "react/hooks", "<h1>Hooks</h1>")

	v, ok := c.Get(ctx, "react/hooks")
	require.True(t, ok)
	require.Equal(t, "<h1>Hooks</h1>", v)
	require.True(t, storeHas(t, store, "docs", "react/hooks"))
	require.Empty(t, c.errs)
}

func TestDurabilityRoundTrip(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	first := newTestCache(t, store, "docs", 4, clock)
	first.Set(ctx, "k", "v")

	fresh := newTestCache(t, store, "docs", 4, clock)
	v, ok := fresh.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", v)
	require.Equal(t, 1, fresh.Stats().Load.Loaded)
}

func TestJSONValuesRoundTrip(t *testing.T) {
	type page struct {
		Title    string   `json:"title"`
		Headings []string `json:"headings"`
	}
	store := backend.NewMemory(0)
	ctx := context.Background()
	cfg := Config[page]{Capacity: 2, Namespace: "pages"}

	c, err := New[page](ctx, store, JSONCodec[page]{}, cfg)
	require.NoError(t, err)
	c.Set(ctx, "intro", page{Title: "Intro", Headings: []string{"Install", "Usage"}})

	fresh, err := New[page](ctx, store, JSONCodec[page]{}, cfg)
	require.NoError(t, err)
	got, ok := fresh.Get(ctx, "intro")
	require.True(t, ok)
	require.Equal(t, page{Title: "Intro", Headings: []string{"Install", "Usage"}}, got)
}

func TestExpiryRemovesFromStore(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	c := newTestCache(t, store, "docs", 4, clock)
	ctx := context.Background()

	c.SetWithTTL(ctx, "k", "v", time.Millisecond)
	clock.Advance(2 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	require.False(t, ok)
	require.False(t, storeHas(t, store, "docs", "k"))
	require.Zero(t, c.Len())
	require.EqualValues(t, 1, c.Stats().Expired)
}

func TestExpiryAtDeadline(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, backend.NewMemory(0), "docs", 4, clock)
	ctx := context.Background()

	c.SetWithTTL(ctx, "k", "v", time.Second)
	clock.Advance(time.Second - time.Nanosecond)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	clock.Advance(time.Nanosecond)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok, "an entry expires at exactly its expiry time")
}

func TestDefaultTTLAndNonPositiveTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, backend.NewMemory(0), "docs", 4, clock, func(cfg *Config[string]) {
		cfg.DefaultTTL = time.Minute
	})
	ctx := context.Background()

	c.Set(ctx, "default", "v")
	c.SetWithTTL(ctx, "forever", "v", 0)

	entries := c.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		switch e.Key {
		case "default":
			require.Equal(t, clock.Now().Add(time.Minute), e.ExpiresAt)
		case "forever":
			require.True(t, e.ExpiresAt.IsZero())
		}
	}

	clock.Advance(time.Hour)
	_, ok := c.Get(ctx, "default")
	require.False(t, ok)
	_, ok = c.Get(ctx, "forever")
	require.True(t, ok)
}

func TestExpiredEntriesDeletedOnReload(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	c := newTestCache(t, store, "docs", 4, clock)
	c.SetWithTTL(ctx, "short", "v", time.Second)
	c.Set(ctx, "long", "v")

	clock.Advance(time.Minute)
	fresh := newTestCache(t, store, "docs", 4, clock)

	require.Equal(t, []string{"long"}, entryKeys(fresh.Entries()))
	require.False(t, storeHas(t, store, "docs", "short"))
	require.Equal(t, 1, fresh.Stats().Load.Expired)
}

func TestEntriesOmitExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, backend.NewMemory(0), "docs", 4, clock)
	ctx := context.Background()

	c.SetWithTTL(ctx, "a", "1", time.Second)
	c.Set(ctx, "b", "2")
	clock.Advance(time.Minute)

	require.Equal(t, []string{"b"}, entryKeys(c.Entries()))
}

func TestCorruptionResilienceOnReload(t *testing.T) {
	store := backend.NewMemory(0)
	ctx := context.Background()

	seed := newTestCache(t, store, "docs", 4, newFakeClock())
	seed.Set(ctx, "good", "v")
	require.NoError(t, store.Put(ctx, doccache.StorageKey("docs", "bad"), []byte("{not an envelope")))

	c := newTestCache(t, store, "docs", 4, newFakeClock())

	require.Equal(t, []string{"good"}, entryKeys(c.Entries()))
	_, ok := c.Get(ctx, "bad")
	require.False(t, ok)
	require.False(t, storeHas(t, store, "docs", "bad"), "corrupt entry is deleted")
	require.Equal(t, 1, c.Stats().Load.Corrupt)
	require.Empty(t, c.errs, "corruption is not an error")
}

func TestUndecodableValueIsCorrupt(t *testing.T) {
	store := backend.NewMemory(0)
	ctx := context.Background()

	writer := newTestCache(t, store, "nums", 4, newFakeClock())
	writer.Set(ctx, "n", "not json")

	c, err := New[int](ctx, store, JSONCodec[int]{}, Config[int]{Capacity: 4, Namespace: "nums"})
	require.NoError(t, err)
	require.Zero(t, c.Len())
	require.False(t, storeHas(t, store, "nums", "n"))
}

func TestCorruptionOnReadThrough(t *testing.T) {
	store := backend.NewMemory(0)
	ctx := context.Background()
	c := newTestCache(t, store, "docs", 4, newFakeClock())

	require.NoError(t, store.Put(ctx, doccache.StorageKey("docs", "late"), []byte("garbage")))

	_, ok := c.Get(ctx, "late")
	require.False(t, ok)
	require.False(t, storeHas(t, store, "docs", "late"))
	require.EqualValues(t, 1, c.Stats().Corrupt)
}

func TestNamespaceIsolation(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	a := newTestCache(t, store, "a", 4, clock)
	ab := newTestCache(t, store, "ab", 4, clock)
	a.Set(ctx, "k", "from a")
	ab.Set(ctx, "k", "from ab")
	ab.Set(ctx, "only-ab", "x")

	freshA := newTestCache(t, store, "a", 4, clock)
	require.Equal(t, []string{"k"}, entryKeys(freshA.Entries()))
	v, ok := freshA.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "from a", v)
	_, ok = freshA.Get(ctx, "only-ab")
	require.False(t, ok)

	require.NoError(t, freshA.Clear(ctx))
	freshAB := newTestCache(t, store, "ab", 4, clock)
	require.ElementsMatch(t, []string{"k", "only-ab"}, entryKeys(freshAB.Entries()))
}

func TestReloadPrefersMostRecentlyWritten(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	writer := newTestCache(t, store, "docs", 10, clock)
	for i := 1; i <= 5; i++ {
		writer.Set(ctx, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
		clock.Advance(time.Second)
	}

	c := newTestCache(t, store, "docs", 3, clock)
	require.Equal(t, []string{"k5", "k4", "k3"}, entryKeys(c.Entries()))
	require.Equal(t, 2, c.Stats().Load.Dropped)

	// the remainder stays durable and is picked up on demand
	v, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	require.Equal(t, "v1", v)
	require.Equal(t, 3, c.Len())
	require.EqualValues(t, 1, c.Stats().ReadThrough)
}

func TestMemoryEvictionKeepsDurableCopy(t *testing.T) {
	store := backend.NewMemory(0)
	c := newTestCache(t, store, "docs", 1, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")

	require.Equal(t, []string{"b"}, entryKeys(c.Entries()))
	require.True(t, storeHas(t, store, "docs", "a"))

	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "1", v)
	require.Equal(t, 1, c.Len())
}

func TestHasDoesNotPromoteOrLoad(t *testing.T) {
	store := backend.NewMemory(0)
	c := newTestCache(t, store, "docs", 2, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")
	c.Set(ctx, "c", "3") // a leaves memory

	require.True(t, c.Has(ctx, "a"), "durable-only entries exist")
	require.Equal(t, []string{"c", "b"}, entryKeys(c.Entries()), "Has does not load")

	require.True(t, c.Has(ctx, "b"))
	c.Set(ctx, "d", "4")
	require.Equal(t, []string{"d", "c"}, entryKeys(c.Entries()), "Has does not promote")

	require.False(t, c.Has(ctx, "missing"))
}

func TestDelete(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	writer := newTestCache(t, store, "docs", 4, clock)
	writer.Set(ctx, "a", "1")
	clock.Advance(time.Second)
	writer.Set(ctx, "b", "2")

	c := newTestCache(t, store, "docs", 1, clock) // holds only b
	require.True(t, c.Delete(ctx, "b"))
	require.True(t, c.Delete(ctx, "a"), "durable-only entry counts as present")
	require.False(t, c.Delete(ctx, "a"))
	require.False(t, c.Delete(ctx, "never"))

	require.False(t, storeHas(t, store, "docs", "a"))
	require.False(t, storeHas(t, store, "docs", "b"))
	require.Zero(t, c.Len())
}

func TestDeleteFailureIsOutOfBand(t *testing.T) {
	store := newFaultyStore()
	c := newTestCache(t, store, "docs", 4, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	store.deleteErr = errors.New("disk unavailable")

	require.True(t, c.Delete(ctx, "k"))
	require.Len(t, c.errs, 1)
	var opErr *OpError
	require.ErrorAs(t, c.errs[0], &opErr)
	require.Equal(t, "delete", opErr.Op)
	require.Equal(t, "k", opErr.Key)
	require.False(t, c.Delete(ctx, "k"), "stale stored copy of a deleted key is absent")

	_, ok := c.Get(ctx, "k")
	require.False(t, ok, "in-memory removal is authoritative")
	require.Equal(t, 1, c.Stats().PendingDeletes)

	require.Error(t, c.Flush(ctx))
	store.deleteErr = nil
	require.NoError(t, c.Flush(ctx))
	require.False(t, storeHas(t, store, "docs", "k"))
	require.Zero(t, c.Stats().PendingDeletes)
}

func TestSerializationFailureKeepsMemoryValue(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	codec := CodecFuncs[string]{
		MarshalFunc: func(v string) ([]byte, error) {
			if strings.HasPrefix(v, "bad") {
				return nil, errors.New("unsupported value")
			}
			return []byte(v), nil
		},
		UnmarshalFunc: func(b []byte) (string, error) { return string(b), nil },
	}
	var reported []error
	cfg := Config[string]{
		Capacity:  4,
		Namespace: "docs",
		Now:       clock.Now,
		OnError:   func(err error) { reported = append(reported, err) },
	}
	c, err := New[string](ctx, store, codec, cfg)
	require.NoError(t, err)

	c.Set(ctx, "k", "good")
	require.True(t, storeHas(t, store, "docs", "k"))

	c.Set(ctx, "k", "bad value")
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "bad value", v)

	require.Len(t, reported, 1)
	require.ErrorIs(t, reported[0], ErrSerialization)
	require.False(t, storeHas(t, store, "docs", "k"), "stale durable value is removed")

	fresh, err := New[string](ctx, store, codec, cfg)
	require.NoError(t, err)
	_, ok = fresh.Get(ctx, "k")
	require.False(t, ok)
}

func TestQuotaReliefDeletesOldestWritten(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	// measure the size of one stored item
	sizing := backend.NewMemory(0)
	newTestCache(t, sizing, "docs", 10, clock).Set(ctx, "k1", "value")
	u, err := sizing.Usage(ctx)
	require.NoError(t, err)
	per := u.UsedBytes

	store := backend.NewMemory(3*per + per/2)
	c := newTestCache(t, store, "docs", 10, clock)
	for i := 1; i <= 4; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), "value")
		clock.Advance(time.Second)
	}

	require.Empty(t, c.errs)
	require.False(t, storeHas(t, store, "docs", "k1"), "oldest entry made room")
	for _, k := range []string{"k2", "k3", "k4"} {
		require.True(t, storeHas(t, store, "docs", k))
	}
	require.EqualValues(t, 1, c.Stats().QuotaEvictions)

	// memory still serves the relieved entry
	v, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestQuotaReliefRechecksUsage(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	sizing := backend.NewMemory(0)
	newTestCache(t, sizing, "docs", 10, clock).Set(ctx, "k1", "value")
	u, err := sizing.Usage(ctx)
	require.NoError(t, err)
	per := u.UsedBytes

	store := backend.NewMemory(3*per + per/2)
	c := newTestCache(t, store, "docs", 10, clock)
	for i := 1; i <= 3; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), "value")
		clock.Advance(time.Second)
	}

	// the oldest entry disappears behind the cache's back and its space is
	// taken by another namespace
	require.NoError(t, store.Delete(ctx, doccache.StorageKey("docs", "k1")))
	newTestCache(t, store, "misc", 10, clock).Set(ctx, "k9", "value")

	c.Set(ctx, "k4", "value")

	require.Empty(t, c.errs)
	require.False(t, storeHas(t, store, "docs", "k2"))
	require.True(t, storeHas(t, store, "docs", "k3"))
	require.True(t, storeHas(t, store, "docs", "k4"))
	require.True(t, storeHas(t, store, "misc", "k9"))
}

func TestQuotaReliefDoesNotTouchOtherNamespaces(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := backend.NewMemory(400)

	other := newTestCache(t, store, "other", 10, clock)
	other.Set(ctx, "big", strings.Repeat("x", 250))
	require.Empty(t, other.errs)

	c := newTestCache(t, store, "docs", 10, clock)
	c.Set(ctx, "k", strings.Repeat("y", 250))

	require.Len(t, c.errs, 1)
	require.ErrorIs(t, c.errs[0], backend.ErrQuotaExceeded)
	require.True(t, storeHas(t, store, "other", "big"))
}

func TestQuotaExhaustedKeepsMemoryAndFlushRetries(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemory(100)
	c := newTestCache(t, store, "docs", 4, newFakeClock())

	huge := strings.Repeat("x", 1000)
	c.Set(ctx, "huge", huge)

	v, ok := c.Get(ctx, "huge")
	require.True(t, ok)
	require.Equal(t, huge, v)
	require.Len(t, c.errs, 1)
	require.ErrorIs(t, c.errs[0], backend.ErrQuotaExceeded)
	require.Equal(t, 1, c.Stats().Dirty)

	err := c.Flush(ctx)
	require.ErrorIs(t, err, backend.ErrQuotaExceeded)
}

func TestFlushRetriesFailedWrites(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCache(t, store, "docs", 4, newFakeClock())

	store.putErr = errors.New("transient")
	c.Set(ctx, "k", "v")
	require.Len(t, c.errs, 1)
	require.False(t, storeHas(t, store, "docs", "k"))
	require.Equal(t, 1, c.Stats().Dirty)

	store.putErr = nil
	require.NoError(t, c.Flush(ctx))
	require.True(t, storeHas(t, store, "docs", "k"))
	require.Zero(t, c.Stats().Dirty)
}

func TestFlushDropsKeysNoLongerInMemory(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCache(t, store, "docs", 1, newFakeClock())

	store.putErr = errors.New("transient")
	c.Set(ctx, "a", "1")
	store.putErr = nil
	c.Set(ctx, "b", "2") // evicts a from memory

	require.NoError(t, c.Flush(ctx))
	require.Zero(t, c.Stats().Dirty)
	require.False(t, storeHas(t, store, "docs", "a"))
}

func TestClearRemovesUnindexedEntries(t *testing.T) {
	store := backend.NewMemory(0)
	clock := newFakeClock()
	ctx := context.Background()

	writer := newTestCache(t, store, "docs", 10, clock)
	for i := range 5 {
		writer.Set(ctx, fmt.Sprintf("k%d", i), "v")
	}
	other := newTestCache(t, store, "other", 10, clock)
	other.Set(ctx, "keep", "v")

	c := newTestCache(t, store, "docs", 2, clock)
	require.NoError(t, c.Clear(ctx))

	require.Zero(t, c.Len())
	require.Equal(t, 2, c.Capacity())
	keys, err := store.List(ctx, doccache.NamespacePrefix("docs"))
	require.NoError(t, err)
	require.Empty(t, keys)
	require.True(t, storeHas(t, store, "other", "keep"))

	c.Set(ctx, "after", "v")
	require.Equal(t, 1, c.Len())
}

func TestClearListFailureKeepsEntriesDeleted(t *testing.T) {
	store := newFaultyStore()
	clock := newFakeClock()
	ctx := context.Background()

	c := newTestCache(t, store, "docs", 4, clock)
	c.Set(ctx, "k", "v")
	store.deleteErr = errors.New("disk unavailable")
	require.True(t, c.Delete(ctx, "k"))
	store.deleteErr = nil

	// written by another process, unknown to c
	newTestCache(t, store, "docs", 4, clock).Set(ctx, "other", "v")

	store.listErr = errors.New("listing unavailable")
	require.Error(t, c.Clear(ctx))
	store.listErr = nil

	_, ok := c.Get(ctx, "k")
	require.False(t, ok, "a cleared key must not be read back")
	_, ok = c.Get(ctx, "other")
	require.False(t, ok)
	require.False(t, c.Has(ctx, "other"))
	require.False(t, c.Delete(ctx, "other"))

	c.Set(ctx, "after", "v")
	require.NoError(t, c.Flush(ctx))

	keys, err := store.List(ctx, doccache.NamespacePrefix("docs"))
	require.NoError(t, err)
	require.Equal(t, []string{"docs:after"}, keys)
	require.Zero(t, c.Stats().PendingDeletes)

	v, ok := c.Get(ctx, "after")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestLoadFailureLeavesEmptyCache(t *testing.T) {
	store := newFaultyStore()
	store.listErr = errors.New("store offline")

	c := newTestCache(t, store, "docs", 4, newFakeClock())
	require.Zero(t, c.Len())
	require.Len(t, c.errs, 1)
	require.ErrorIs(t, c.errs[0], store.listErr)

	c.Set(context.Background(), "k", "v")
	v, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestEntriesSnapshotIsolation(t *testing.T) {
	c := newTestCache(t, backend.NewMemory(0), "docs", 4, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")
	c.Get(ctx, "a")

	entries := c.Entries()
	require.Equal(t, []string{"a", "b"}, entryKeys(entries))

	require.True(t, c.Delete(ctx, entries[0].Key))
	require.Equal(t, []string{"a", "b"}, entryKeys(entries))
	require.Equal(t, "1", entries[0].Value)
}

func TestMemoryUsageAndEstimator(t *testing.T) {
	ctx := context.Background()

	c := newTestCache(t, backend.NewMemory(0), "docs", 4, newFakeClock(), func(cfg *Config[string]) {
		cfg.SizeEstimator = func(v string) int64 { return int64(len(v)) * 2 }
	})
	c.Set(ctx, "ab", "xyz")
	require.Equal(t, int64(2+6), c.MemoryUsage())

	plain := newTestCache(t, backend.NewMemory(0), "docs", 4, newFakeClock())
	plain.Set(ctx, "ab", "xyz")
	require.Greater(t, plain.MemoryUsage(), int64(len("ab")+len("xyz")), "encoded size includes envelope overhead")
}

func TestStatsCounters(t *testing.T) {
	c := newTestCache(t, backend.NewMemory(0), "docs", 1, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2") // evicts a
	c.Get(ctx, "b")
	c.Get(ctx, "missing")

	s := c.Stats()
	require.Equal(t, "docs", s.Namespace)
	require.Equal(t, "docs", c.Namespace())
	require.EqualValues(t, 1, s.Hits)
	require.EqualValues(t, 1, s.Misses)
	require.EqualValues(t, 1, s.Evictions)
	require.EqualValues(t, 2, s.DurableWrites)
	require.Equal(t, 1, s.Len)
	require.Equal(t, 1, s.Capacity)
}
