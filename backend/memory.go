package backend

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory implements Store in process memory. It is the default store for
// tests and for running without persistence.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
	quota quota
}

// NewMemory creates an empty in-memory store. A quotaBytes of zero means
// unlimited.
func NewMemory(quotaBytes int64) *Memory {
	return &Memory{
		items: make(map[string][]byte),
		quota: quota{limit: quotaBytes},
	}
}

// Get retrieves the value at key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Put stores value at key, enforcing the quota.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldSize int64
	old, existed := m.items[key]
	if existed {
		oldSize = itemSize(key, old)
	}
	newSize := itemSize(key, value)

	if !m.quota.fits(oldSize, newSize) {
		return ErrQuotaExceeded
	}
	m.items[key] = bytes.Clone(value)
	m.quota.commit(oldSize, newSize, existed)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.items[key]; ok {
		delete(m.items, key)
		m.quota.release(itemSize(key, old))
	}
	return nil
}

// List returns all keys with the given prefix in lexical order.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Usage returns the current quota usage.
func (m *Memory) Usage(_ context.Context) (Usage, error) {
	return m.quota.usage(), nil
}

// Compile-time interface checks
var (
	_ Store         = (*Memory)(nil)
	_ UsageReporter = (*Memory)(nil)
)
