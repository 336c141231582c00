// Package server provides the HTTP server for the documentation cache.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/doc-cache/backend"
	"github.com/wolfeidau/doc-cache/download"
	"github.com/wolfeidau/doc-cache/expiry"
	"github.com/wolfeidau/doc-cache/store/durable"
	"github.com/wolfeidau/doc-cache/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string

	// Lock serialises cache access. Share it with the reaper. If nil the
	// server uses its own mutex.
	Lock sync.Locker

	// Reaper, if set, is started and stopped with the server.
	Reaper *expiry.Reaper

	// Origin, if set, fills cache misses on GET.
	Origin *download.Origin

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the documentation cache.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	// mu guards cache, which is not safe for concurrent use.
	mu    sync.Locker
	cache *durable.Cache[[]byte]
	store backend.Store
}

// New creates a server over cache. store is the cache's durable store and
// is only used for usage reporting.
func New(cache *durable.Cache[[]byte], store backend.Store, cfg Config) (*Server, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.Lock == nil {
		cfg.Lock = &sync.Mutex{}
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		mu:     cfg.Lock,
		cache:  cache,
		store:  store,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(s.authMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /api/entries", s.handleList)
	mux.HandleFunc("DELETE /api/entries", s.handleClear)
	mux.HandleFunc("POST /api/flush", s.handleFlush)

	mux.HandleFunc("GET /api/entries/{key...}", s.handleGet)
	mux.HandleFunc("HEAD /api/entries/{key...}", s.handleHas)
	mux.HandleFunc("PUT /api/entries/{key...}", s.handlePut)
	mux.HandleFunc("DELETE /api/entries/{key...}", s.handleDelete)
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type statsResponse struct {
	Cache durable.Stats  `json:"cache"`
	Store *backend.Usage `json:"store,omitempty"`
}

// handleStats handles cache statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := statsResponse{Cache: s.cache.Stats()}
	s.mu.Unlock()

	if reporter, ok := s.store.(backend.UsageReporter); ok {
		usage, err := reporter.Usage(r.Context())
		if err != nil {
			s.logger.Warn("failed to read store usage", "error", err)
		} else {
			resp.Store = &usage
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		telemetry.SetEndpoint(r, deriveEndpoint(r.URL.Path))
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"endpoint", tags.Endpoint,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Namespace != "" {
			attrs = append(attrs, "namespace", tags.Namespace)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the reaper, if configured, and the server.
func (s *Server) Start() error {
	if s.config.Reaper != nil {
		if err := s.config.Reaper.Start(context.Background()); err != nil {
			return fmt.Errorf("starting reaper: %w", err)
		}
	}

	s.logger.Info("starting server", "address", s.config.Address, "namespace", s.cache.Namespace())
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server, then flushes pending durable writes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.config.Reaper != nil {
		s.config.Reaper.Stop()
	}

	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if flushErr := s.cache.Flush(ctx); flushErr != nil {
		s.logger.Warn("flush on shutdown incomplete", "error", flushErr)
	}
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveEndpoint classifies the request path for logs and metrics.
func deriveEndpoint(path string) string {
	switch {
	case path == "/health" || path == "/stats" || path == "/metrics":
		return "internal"
	case path == "/api/entries":
		return "entries"
	case path == "/api/flush":
		return "flush"
	case strings.HasPrefix(path, "/api/entries/"):
		return "entry"
	default:
		return "unknown"
	}
}
