// Package backend provides the durable key-value stores behind the
// documentation cache.
//
// A Store is shared by every cache namespace in the process, so
// implementations must be safe for concurrent use. Stores may enforce a
// byte quota; a write that would exceed it fails with ErrQuotaExceeded and
// leaves the previous value (if any) untouched.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is returned when a write would exceed the store's quota.
	// Nothing is written.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Store defines the durable store contract.
type Store interface {
	// Get retrieves the value stored at key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, replacing any existing value.
	// Returns ErrQuotaExceeded without writing if the store is full.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Usage describes how much of a store's quota is in use.
type Usage struct {
	// UsedBytes is the accounted size of all items (key plus value bytes).
	UsedBytes int64 `json:"used_bytes"`
	// QuotaBytes is the configured limit; zero means unlimited.
	QuotaBytes int64 `json:"quota_bytes"`
	// Items is the number of stored keys.
	Items int `json:"items"`
}

// UsageReporter extends Store with quota accounting information.
type UsageReporter interface {
	Store

	// Usage returns the current quota usage.
	Usage(ctx context.Context) (Usage, error)
}
