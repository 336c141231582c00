package backend

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/doc-cache/telemetry"
)

// Instrumented wraps a Store with metrics recording.
type Instrumented struct {
	store Store
	name  string
}

// NewInstrumented creates a new instrumented store wrapper. name labels
// every recorded operation.
func NewInstrumented(s Store, name string) *Instrumented {
	return &Instrumented{store: s, name: name}
}

func (is *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := is.store.Get(ctx, key)
	telemetry.RecordBackendOp(ctx, is.name, "get", outcomeFromError(err), time.Since(start), int64(len(data)))
	return data, err
}

func (is *Instrumented) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := is.store.Put(ctx, key, value)
	telemetry.RecordBackendOp(ctx, is.name, "put", outcomeFromError(err), time.Since(start), int64(len(value)))
	return err
}

func (is *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := is.store.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, is.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (is *Instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := is.store.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, is.name, "list", outcomeFromError(err), time.Since(start), 0)
	return keys, err
}

// Usage delegates to the underlying store if it implements UsageReporter.
func (is *Instrumented) Usage(ctx context.Context) (Usage, error) {
	ur, ok := is.store.(UsageReporter)
	if !ok {
		return Usage{}, errors.New("store does not report usage")
	}
	return ur.Usage(ctx)
}

// Unwrap returns the underlying store.
func (is *Instrumented) Unwrap() Store {
	return is.store
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}

// Compile-time interface checks
var (
	_ Store         = (*Instrumented)(nil)
	_ UsageReporter = (*Instrumented)(nil)
)
