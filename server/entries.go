package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wolfeidau/doc-cache/download"
	"github.com/wolfeidau/doc-cache/store/envelope"
	"github.com/wolfeidau/doc-cache/telemetry"
)

type entryInfo struct {
	Key            string     `json:"key"`
	Size           int64      `json:"size"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// handleList returns the in-memory entries, most recently used first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entries := s.cache.Entries()
	s.mu.Unlock()

	infos := make([]entryInfo, 0, len(entries))
	for _, e := range entries {
		info := entryInfo{
			Key:            e.Key,
			Size:           e.Size,
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessedAt,
		}
		if !e.ExpiresAt.IsZero() {
			info.ExpiresAt = &e.ExpiresAt
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	telemetry.SetNamespace(r, s.cache.Namespace())

	s.mu.Lock()
	value, ok := s.cache.Get(r.Context(), key)
	s.mu.Unlock()

	if ok {
		telemetry.SetCacheResult(r, telemetry.CacheHit)
		w.Header().Set("Content-Type", http.DetectContentType(value))
		_, _ = w.Write(value)
		return
	}

	telemetry.SetCacheResult(r, telemetry.CacheMiss)
	if s.config.Origin == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.fill(w, r, key)
}

// fill fetches key from the origin, caches it and serves it. The fetch runs
// without holding the cache lock.
func (s *Server) fill(w http.ResponseWriter, r *http.Request, key string) {
	result, err := s.config.Origin.Fetch(r.Context(), key)
	switch {
	case errors.Is(err, download.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, download.ErrTooLarge):
		writeError(w, http.StatusBadGateway, "origin document too large")
		return
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timeout")
		return
	case err != nil:
		s.logger.Error("origin fetch failed", "key", key, "error", err)
		writeError(w, http.StatusBadGateway, "upstream error")
		return
	}

	s.mu.Lock()
	s.cache.Set(r.Context(), key, result.Body)
	s.mu.Unlock()

	contentType := result.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(result.Body)
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(result.Body)
}

func (s *Server) handleHas(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	telemetry.SetNamespace(r, s.cache.Namespace())

	s.mu.Lock()
	ok := s.cache.Has(r.Context(), key)
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handlePut stores the request body. An optional ttl query parameter
// overrides the cache's default TTL; "0" stores without expiry.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	telemetry.SetNamespace(r, s.cache.Namespace())

	var (
		ttl    time.Duration
		hasTTL bool
	)
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl, hasTTL = parsed, true
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, envelope.MaxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	s.mu.Lock()
	if hasTTL {
		s.cache.SetWithTTL(r.Context(), key, body, ttl)
	} else {
		s.cache.Set(r.Context(), key, body)
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	telemetry.SetNamespace(r, s.cache.Namespace())

	s.mu.Lock()
	existed := s.cache.Delete(r.Context(), key)
	s.mu.Unlock()

	if !existed {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClear empties the cache. Memory is always cleared; a failure means
// some durable entries may remain.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	telemetry.SetNamespace(r, s.cache.Namespace())

	s.mu.Lock()
	err := s.cache.Clear(r.Context())
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("clear incomplete", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	telemetry.SetNamespace(r, s.cache.Namespace())

	s.mu.Lock()
	err := s.cache.Flush(r.Context())
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("flush incomplete", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
