package download

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	doccache "github.com/wolfeidau/doc-cache"
)

func newTestFillGroup() *fillGroup {
	return &fillGroup{logger: slog.New(slog.DiscardHandler)}
}

func TestFillSetsDigest(t *testing.T) {
	g := newTestFillGroup()

	result, err := g.fill(context.Background(), "intro.md", func(context.Context) (*Result, error) {
		return &Result{Body: []byte("# Intro"), ContentType: "text/markdown"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("# Intro"), result.Body)
	require.Equal(t, "text/markdown", result.ContentType)
	require.Equal(t, doccache.DigestBytes([]byte("# Intro")), result.Digest)
}

func TestFillVerifiesReportedDigest(t *testing.T) {
	g := newTestFillGroup()
	ctx := context.Background()

	_, err := g.fill(ctx, "a", func(context.Context) (*Result, error) {
		return &Result{Body: []byte("tampered"), Digest: doccache.DigestBytes([]byte("original"))}, nil
	})
	require.ErrorIs(t, err, ErrDigestMismatch)

	result, err := g.fill(ctx, "a", func(context.Context) (*Result, error) {
		return &Result{Body: []byte("original"), Digest: doccache.DigestBytes([]byte("original"))}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("original"), result.Body)
}

func TestFillRejectsMissingResult(t *testing.T) {
	g := newTestFillGroup()

	_, err := g.fill(context.Background(), "a", func(context.Context) (*Result, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, errNoResult)
}

func TestFillRetriesAfterError(t *testing.T) {
	g := newTestFillGroup()
	ctx := context.Background()
	var calls atomic.Int32

	fetch := func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("origin unavailable")
		}
		return &Result{Body: []byte("ok")}, nil
	}

	_, err := g.fill(ctx, "page", fetch)
	require.EqualError(t, err, "origin unavailable")

	result, err := g.fill(ctx, "page", fetch)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), result.Body)
	require.Equal(t, int32(2), calls.Load())
}

func TestFillCallerTimeoutLeavesFetchRunning(t *testing.T) {
	g := newTestFillGroup()
	started := make(chan struct{})
	release := make(chan struct{})
	fetchErr := make(chan error, 1)

	go func() {
		_, _ = g.fill(context.Background(), "slow", func(ctx context.Context) (*Result, error) {
			close(started)
			<-release
			fetchErr <- ctx.Err()
			return &Result{Body: []byte("late")}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.fill(ctx, "slow", func(context.Context) (*Result, error) {
		t.Error("a second fetch started while one was in flight")
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-fetchErr, "the fetch context is not tied to the caller")
}

func TestFillCallerContextCancelsStartingCaller(t *testing.T) {
	g := newTestFillGroup()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.fill(ctx, "page", func(context.Context) (*Result, error) {
		<-release
		return &Result{Body: []byte("ok")}, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFillReturnsPrivateBody(t *testing.T) {
	g := newTestFillGroup()
	body := []byte("shared")

	result, err := g.fill(context.Background(), "a", func(context.Context) (*Result, error) {
		return &Result{Body: body}, nil
	})
	require.NoError(t, err)

	result.Body[0] = 'S'
	require.Equal(t, []byte("shared"), body)
}
