package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/doc-cache/backend"
	"github.com/wolfeidau/doc-cache/credentials"
	"github.com/wolfeidau/doc-cache/credentials/opprovider"
	"github.com/wolfeidau/doc-cache/download"
	"github.com/wolfeidau/doc-cache/expiry"
	"github.com/wolfeidau/doc-cache/server"
	"github.com/wolfeidau/doc-cache/store/envelope"
	"github.com/wolfeidau/doc-cache/telemetry"
)

var errNotFound = errors.New("not found")

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Address   string `help:"Address to listen on."`
	AuthToken string `help:"Bearer token required on /api routes." env:"DOC_CACHE_AUTH_TOKEN"`
	Origin    string `help:"Base URL to fill cache misses from."`

	Credentials string `help:"Credentials template file." type:"existingfile"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Address != "" {
		e.cfg.Server.Address = c.Address
	}
	if c.AuthToken != "" {
		e.cfg.Server.AuthToken = c.AuthToken
	}
	if c.Origin != "" {
		e.cfg.Server.Origin = c.Origin
	}
	if c.Credentials != "" {
		e.cfg.Server.CredentialsFile = c.Credentials
	}

	var creds credentials.Credentials
	if e.cfg.Server.CredentialsFile != "" {
		resolved, err := credentials.NewResolver(
			credentials.WithLogger(e.logger),
			opprovider.WithOnePassword(),
		).ResolveFile(ctx, e.cfg.Server.CredentialsFile)
		if err != nil {
			return err
		}
		creds = *resolved
		if creds.AuthToken != "" {
			e.cfg.Server.AuthToken = creds.AuthToken
		}
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceVersion:   version,
		OTLPEndpoint:     e.cfg.Metrics.OTLPEndpoint,
		EnablePrometheus: e.cfg.Metrics.Prometheus,
		FlushInterval:    e.cfg.Metrics.ExportInterval.Std(),
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			e.logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	load := cache.Stats().Load
	e.logger.Info("cache loaded",
		"namespace", cache.Namespace(),
		"loaded", load.Loaded,
		"dropped", load.Dropped,
		"expired", load.Expired,
		"corrupt", load.Corrupt,
		"duration", load.Duration,
	)

	mu := &sync.Mutex{}
	var reaper *expiry.Reaper
	if e.cfg.Reaper.Enabled {
		reaper, err = expiry.NewReaper(e.store, expiry.Config{
			Namespaces: []string{cache.Namespace()},
			Interval:   e.cfg.Reaper.Interval.Std(),
			Lock:       mu,
			Logger:     e.logger,
		})
		if err != nil {
			return err
		}
	}

	var origin *download.Origin
	if e.cfg.Server.Origin != "" {
		origin, err = download.NewOrigin(e.cfg.Server.Origin,
			download.WithHTTPClient(&http.Client{Timeout: e.cfg.Server.OriginTimeout.Std()}),
			download.WithBasicAuth(creds.Origin.Username, creds.Origin.Password),
			download.WithBearerToken(creds.Origin.Token),
			download.WithOriginLogger(e.logger),
		)
		if err != nil {
			return err
		}
	}

	srv, err := server.New(cache, e.store, server.Config{
		Address:   e.cfg.Server.Address,
		AuthToken: e.cfg.Server.AuthToken,
		Lock:      mu,
		Reaper:    reaper,
		Origin:    origin,
		Logger:    e.logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		e.logger.Info("received signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// GetCmd prints a cached value.
type GetCmd struct {
	Key string `arg:"" help:"Cache key."`
}

func (c *GetCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	value, ok := cache.Get(ctx, c.Key)
	if !ok {
		return fmt.Errorf("%s: %w", c.Key, errNotFound)
	}
	_, err = os.Stdout.Write(value)
	return err
}

// PutCmd stores a value.
type PutCmd struct {
	Key  string `arg:"" help:"Cache key."`
	File string `arg:"" optional:"" default:"-" help:"File to read, - for stdin."`
	TTL  string `help:"Time to live, e.g. 24h. 0 stores without expiry. Defaults to cache.default_ttl."`
}

func (c *PutCmd) Run(g *Globals) error {
	ttl, hasTTL, err := parseTTL(c.TTL)
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	value, err := io.ReadAll(io.LimitReader(r, envelope.MaxPayloadSize+1))
	if err != nil {
		return fmt.Errorf("reading value: %w", err)
	}
	if len(value) > envelope.MaxPayloadSize {
		return envelope.ErrPayloadTooLarge
	}

	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	if hasTTL {
		cache.SetWithTTL(ctx, c.Key, value, ttl)
	} else {
		cache.Set(ctx, c.Key, value)
	}
	return e.storageErr()
}

// DeleteCmd deletes a cached value.
type DeleteCmd struct {
	Key string `arg:"" help:"Cache key."`
}

func (c *DeleteCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	if !cache.Delete(ctx, c.Key) {
		return fmt.Errorf("%s: %w", c.Key, errNotFound)
	}
	return e.storageErr()
}

// ListCmd lists the entries loaded into memory, most recently written first.
type ListCmd struct {
	JSON bool `help:"Print JSON."`
}

func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	entries := cache.Entries()

	if c.JSON {
		type item struct {
			Key       string     `json:"key"`
			Size      int64      `json:"size"`
			CreatedAt time.Time  `json:"created_at"`
			ExpiresAt *time.Time `json:"expires_at,omitempty"`
		}
		items := make([]item, 0, len(entries))
		for _, entry := range entries {
			it := item{Key: entry.Key, Size: entry.Size, CreatedAt: entry.CreatedAt}
			if !entry.ExpiresAt.IsZero() {
				it.ExpiresAt = &entry.ExpiresAt
			}
			items = append(items, it)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tCREATED\tEXPIRES")
	for _, entry := range entries {
		expires := "never"
		if !entry.ExpiresAt.IsZero() {
			expires = entry.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", entry.Key, entry.Size, entry.CreatedAt.Format(time.RFC3339), expires)
	}
	return tw.Flush()
}

// ClearCmd removes every entry in the namespace.
type ClearCmd struct{}

func (c *ClearCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	return errors.Join(cache.Clear(ctx), e.storageErr())
}

// FlushCmd reloads the namespace, which deletes expired and corrupt
// entries, and retries any durable writes that failed.
type FlushCmd struct{}

func (c *FlushCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, err := e.newCache(ctx)
	if err != nil {
		return err
	}
	if err := cache.Flush(ctx); err != nil {
		return err
	}

	load := cache.Stats().Load
	fmt.Printf("loaded %d, dropped %d, expired %d, corrupt %d\n", load.Loaded, load.Dropped, load.Expired, load.Corrupt)
	return e.storageErr()
}

// PruneCmd removes expired and corrupt entries without loading a cache.
type PruneCmd struct {
	All bool `help:"Sweep every namespace in the store."`
}

func (c *PruneCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := prune(ctx, e.store, e.cfg.Cache.Namespace, c.All, e.logger)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d, expired %d, corrupt %d, kept %d, freed %d bytes in %s\n",
		result.Scanned, result.Expired, result.Corrupt, result.Kept, result.BytesFreed, result.Duration)
	if result.Errors > 0 {
		return fmt.Errorf("prune finished with %d errors", result.Errors)
	}
	return nil
}

// prune sweeps the owned namespace. With all set it also removes expired
// entries from every other namespace, but leaves their undecodable entries
// alone since those may belong to another component.
func prune(ctx context.Context, store backend.Store, owned string, all bool, logger *slog.Logger) (*expiry.Result, error) {
	configs := []expiry.Config{{Namespaces: []string{owned}, Logger: logger}}
	if all {
		namespaces, err := expiry.Namespaces(ctx, store)
		if err != nil {
			return nil, err
		}
		others := slices.DeleteFunc(namespaces, func(ns string) bool { return ns == owned })
		if len(others) > 0 {
			configs = append(configs, expiry.Config{Namespaces: others, KeepCorrupt: true, Logger: logger})
		}
	}

	total := &expiry.Result{}
	for _, cfg := range configs {
		reaper, err := expiry.NewReaper(store, cfg)
		if err != nil {
			return nil, err
		}
		result := reaper.RunOnce(ctx)
		total.Scanned += result.Scanned
		total.Expired += result.Expired
		total.Corrupt += result.Corrupt
		total.Kept += result.Kept
		total.BytesFreed += result.BytesFreed
		total.Errors += result.Errors
		total.Duration += result.Duration
	}
	return total, nil
}

// StatsCmd prints stored entry statistics.
type StatsCmd struct {
	All bool `help:"Report every namespace in the store."`
}

func (c *StatsCmd) Run(g *Globals) error {
	ctx := context.Background()
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	namespaces := []string{e.cfg.Cache.Namespace}
	if c.All {
		namespaces, err = expiry.Namespaces(ctx, e.store)
		if err != nil {
			return err
		}
	}

	out := struct {
		Namespaces []*expiry.Stats `json:"namespaces"`
		Usage      *backend.Usage  `json:"usage,omitempty"`
	}{Namespaces: []*expiry.Stats{}}

	for _, ns := range namespaces {
		stats, err := expiry.Inspect(ctx, e.store, ns)
		if err != nil {
			return err
		}
		out.Namespaces = append(out.Namespaces, stats)
	}
	if reporter, ok := e.store.(backend.UsageReporter); ok {
		if usage, err := reporter.Usage(ctx); err == nil {
			out.Usage = &usage
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
