package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	doccache "github.com/wolfeidau/doc-cache"
	"github.com/wolfeidau/doc-cache/store/envelope"
)

var (
	// ErrNotFound is returned when the origin has no document for a key.
	ErrNotFound = errors.New("download: not found at origin")

	// ErrTooLarge is returned when a document exceeds envelope.MaxPayloadSize.
	ErrTooLarge = errors.New("download: document too large")
)

// UpstreamError is returned for unexpected origin responses.
type UpstreamError struct {
	Status int
	URL    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("download: %s returned status %d", e.URL, e.Status)
}

// Origin fetches documents from a base URL. A cache key is appended to the
// base URL path.
type Origin struct {
	base     *url.URL
	client   *http.Client
	username string
	password string
	token    string
	fills    fillGroup
	logger   *slog.Logger
}

// OriginOption configures an Origin.
type OriginOption func(*Origin)

// WithHTTPClient sets the HTTP client used for origin requests.
func WithHTTPClient(client *http.Client) OriginOption {
	return func(o *Origin) {
		o.client = client
	}
}

// WithBasicAuth authenticates origin requests with HTTP basic auth.
func WithBasicAuth(username, password string) OriginOption {
	return func(o *Origin) {
		o.username = username
		o.password = password
	}
}

// WithBearerToken authenticates origin requests with a bearer token. It
// takes precedence over basic auth.
func WithBearerToken(token string) OriginOption {
	return func(o *Origin) {
		o.token = token
	}
}

// WithOriginLogger sets the logger for the origin.
func WithOriginLogger(logger *slog.Logger) OriginOption {
	return func(o *Origin) {
		o.logger = logger
	}
}

// NewOrigin creates an origin for baseURL, which must be absolute http(s).
func NewOrigin(baseURL string, opts ...OriginOption) (*Origin, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: origin url: %w", doccache.ErrInvalidConfig, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: origin url must be absolute http(s), got %q", doccache.ErrInvalidConfig, baseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	o := &Origin{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "origin")
	o.fills.logger = o.logger
	return o, nil
}

// URL returns the origin URL for key.
func (o *Origin) URL(key string) string {
	u := *o.base
	u.Path = u.Path + "/" + strings.TrimPrefix(key, "/")
	u.RawPath = ""
	return u.String()
}

// Fetch downloads key from the origin. Concurrent fetches of the same key
// share one request.
func (o *Origin) Fetch(ctx context.Context, key string) (*Result, error) {
	return o.fills.fill(ctx, key, func(ctx context.Context) (*Result, error) {
		return o.fetch(ctx, key)
	})
}

func (o *Origin) fetch(ctx context.Context, key string) (*Result, error) {
	start := time.Now()
	target := o.URL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	switch {
	case o.token != "":
		req.Header.Set("Authorization", "Bearer "+o.token)
	case o.username != "":
		req.SetBasicAuth(o.username, o.password)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &UpstreamError{Status: resp.StatusCode, URL: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, envelope.MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	if len(body) > envelope.MaxPayloadSize {
		return nil, ErrTooLarge
	}

	o.logger.Debug("fetched from origin",
		"key", key,
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return &Result{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
