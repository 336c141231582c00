// Package download fetches documents from an origin server to fill cache
// misses. Concurrent misses on one key share a single origin fetch.
package download

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	doccache "github.com/wolfeidau/doc-cache"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrDigestMismatch is returned when a fetched body does not match the
	// digest reported with it.
	ErrDigestMismatch = errors.New("download: body does not match digest")

	errNoResult = errors.New("download: fetch returned no result")
)

// Result holds a fetched document.
type Result struct {
	Body        []byte
	ContentType string
	Digest      doccache.Digest
}

func (r *Result) clone() *Result {
	c := *r
	c.Body = bytes.Clone(r.Body)
	return &c
}

// fetchFunc fetches one document. Its context is detached from the caller
// that started the fetch.
type fetchFunc func(ctx context.Context) (*Result, error)

// fillGroup shares in-flight fetches per cache key.
type fillGroup struct {
	group  singleflight.Group
	logger *slog.Logger
}

// fill runs fn for key, or waits for the fetch of key already in flight.
// A caller whose context ends stops waiting without cancelling the fetch.
// Results are not remembered once a fetch completes, so a failed fill is
// retried by the next miss. Every caller receives its own copy of the body.
func (g *fillGroup) fill(ctx context.Context, key string, fn fetchFunc) (*Result, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		result, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return seal(result)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			g.logger.Debug("joined in-flight origin fetch", "key", key)
		}
		return res.Val.(*Result).clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// seal sets the digest of a result that has none and verifies one that does.
func seal(result *Result) (*Result, error) {
	if result == nil {
		return nil, errNoResult
	}
	digest := doccache.DigestBytes(result.Body)
	switch {
	case result.Digest.IsZero():
		result.Digest = digest
	case result.Digest != digest:
		return nil, ErrDigestMismatch
	}
	return result, nil
}
