package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/ledger"
	"bilancio/internal/report"
)

// Server exposes the ledger core as a JSON API for UI collaborators. The
// coverage report is cached per (year, month) and flushed on every mutation:
// a change in any month can reshape the whole transfer graph.
type Server struct {
	http.Server

	entries   *ledger.EntryLedger
	envelopes *ledger.EnvelopeLedger
	limits    *report.LimitResolver
	series    *report.SeriesBuilder

	coverageCache *cache.LRUCache[[]report.MonthCoverage]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// Options carries the read-cache tuning knobs.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewServer configures routes, returning a ready-to-run server.
func NewServer(addr string, entries *ledger.EntryLedger, envelopes *ledger.EnvelopeLedger,
	limits *report.LimitResolver, series *report.SeriesBuilder, opts Options) *Server {

	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		entries:          entries,
		envelopes:        envelopes,
		limits:           limits,
		series:           series,
		coverageCache:    cache.NewLRUCache[[]report.MonthCoverage](opts.CacheSize, opts.CacheTTL),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("POST /entries", s.withRequestLog(s.handleAddEntry))
	mux.HandleFunc("GET /entries", s.withRequestLog(s.handleListEntries))
	mux.HandleFunc("PATCH /entries/{id}/amount", s.withRequestLog(s.handleAmendAmount))
	mux.HandleFunc("POST /entries/{id}/archive", s.withRequestLog(s.handleArchiveEntry))
	mux.HandleFunc("DELETE /entries/{id}", s.withRequestLog(s.handleDeleteEntry))

	mux.HandleFunc("POST /envelopes", s.withRequestLog(s.handleCreateEnvelope))
	mux.HandleFunc("GET /envelopes", s.withRequestLog(s.handleListEnvelopes))
	mux.HandleFunc("POST /envelopes/{id}/deposits", s.withRequestLog(s.handleDeposit))
	mux.HandleFunc("DELETE /envelopes/{id}", s.withRequestLog(s.handleDeleteEnvelope))

	mux.HandleFunc("POST /limits", s.withRequestLog(s.handleSetLimit))
	mux.HandleFunc("DELETE /limits/{id}", s.withRequestLog(s.handleRemoveLimit))
	mux.HandleFunc("GET /limits/usage", s.withRequestLog(s.handleUsage))

	mux.HandleFunc("GET /reports/coverage", s.withRequestLog(s.handleCoverage))

	return s
}

// Shutdown stops the server and its cache cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.coverageCache.CleanExpired(); n > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", n)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// withRequestLog tags each request with an id and logs start and completion.
func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
