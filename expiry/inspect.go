package expiry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	doccache "github.com/wolfeidau/doc-cache"
	"github.com/wolfeidau/doc-cache/backend"
	"github.com/wolfeidau/doc-cache/store/envelope"
)

// Stats describes the stored entries of one namespace.
type Stats struct {
	Namespace string    `json:"namespace"`
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
	Expired   int       `json:"expired"`
	Corrupt   int       `json:"corrupt"`
	Oldest    time.Time `json:"oldest,omitzero"`
	Newest    time.Time `json:"newest,omitzero"`
}

// Inspect scans a namespace without modifying it. Bytes counts keys and
// encoded values of every entry, including expired and corrupt ones.
func Inspect(ctx context.Context, store backend.Store, namespace string) (*Stats, error) {
	return inspect(ctx, store, namespace, time.Now())
}

func inspect(ctx context.Context, store backend.Store, namespace string, now time.Time) (*Stats, error) {
	if err := doccache.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	codec, err := envelope.Default()
	if err != nil {
		return nil, fmt.Errorf("creating envelope codec: %w", err)
	}

	keys, err := store.List(ctx, doccache.NamespacePrefix(namespace))
	if err != nil {
		return nil, fmt.Errorf("listing namespace %s: %w", namespace, err)
	}

	stats := &Stats{Namespace: namespace}
	for _, key := range keys {
		data, err := store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}

		stats.Entries++
		stats.Bytes += int64(len(key) + len(data))

		entry, err := codec.Decode(data)
		if err != nil {
			stats.Corrupt++
			continue
		}
		if entry.Expired(now) {
			stats.Expired++
		}
		if stats.Oldest.IsZero() || entry.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.Newest) {
			stats.Newest = entry.CreatedAt
		}
	}
	return stats, nil
}

// Namespaces returns the distinct namespaces present in store, sorted.
// Keys without a namespace separator are ignored.
func Namespaces(ctx context.Context, store backend.Store) ([]string, error) {
	keys, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}

	var namespaces []string
	for _, key := range keys {
		ns, _, ok := cutNamespace(key)
		if !ok || ns == "" {
			continue
		}
		namespaces = append(namespaces, ns)
	}
	// keys arrive sorted, so equal namespaces are adjacent
	return slices.Compact(namespaces), nil
}

func cutNamespace(storageKey string) (namespace, key string, ok bool) {
	return strings.Cut(storageKey, doccache.NamespaceSeparator)
}
