// Package server exposes the HTTP surface: health and readiness probes,
// Prometheus metrics, the dictionary search API, hearing segment retrieval,
// and the live hearing websocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/escriba-ai/escriba/internal/dictionary"
	"github.com/escriba-ai/escriba/internal/health"
	"github.com/escriba-ai/escriba/internal/observe"
	"github.com/escriba-ai/escriba/internal/session"
	"github.com/escriba-ai/escriba/internal/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Config holds the server dependencies.
type Config struct {
	ListenAddr string
	Manager    *session.Manager

	// Dictionary is optional; without it the search API returns 503.
	Dictionary *dictionary.Dictionary

	// Store is optional; without it segment retrieval returns 503 and the
	// readiness probe skips the database check.
	Store store.SegmentStore

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server serves the HTTP and websocket API for live hearings.
type Server struct {
	addr    string
	manager *session.Manager
	dict    *dictionary.Dictionary
	store   store.SegmentStore
	log     *slog.Logger
	handler http.Handler
}

// New assembles the route table and wraps it in the observability middleware.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Server{
		addr:    cfg.ListenAddr,
		manager: cfg.Manager,
		dict:    cfg.Dictionary,
		store:   cfg.Store,
		log:     log,
	}

	var checkers []health.Checker
	if cfg.Store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: cfg.Store.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/dictionary/search", s.handleDictionarySearch)
	mux.HandleFunc("GET /api/hearings/{hearingID}/segments", s.handleListSegments)
	mux.HandleFunc("GET /ws/hearings/{hearingID}", s.handleHearingSocket)

	s.handler = observe.Middleware(metrics)(mux)
	return s
}

// Handler returns the fully wrapped route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info("http server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	}
}

// searchResponse is the JSON body for the dictionary search endpoint.
type searchResponse struct {
	Query   string             `json:"query"`
	Results []dictionary.Entry `json:"results"`
}

// handleDictionarySearch serves GET /api/dictionary/search?q=<term>&limit=<n>.
func (s *Server) handleDictionarySearch(w http.ResponseWriter, r *http.Request) {
	if s.dict == nil {
		http.Error(w, "dictionary not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "query parameter q is required", http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSearchLimit)
	}

	results := s.dict.Search(q, limit)
	if results == nil {
		results = []dictionary.Entry{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Results: results})
}

// segmentsResponse is the JSON body for the segment retrieval endpoint.
type segmentsResponse struct {
	HearingID string          `json:"hearing_id"`
	Segments  []store.Segment `json:"segments"`
}

// handleListSegments serves GET /api/hearings/{hearingID}/segments.
func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "segment store not configured", http.StatusServiceUnavailable)
		return
	}

	hearingID := r.PathValue("hearingID")
	segments, err := s.store.ListSegments(r.Context(), hearingID)
	if err != nil {
		s.log.Error("segment listing failed", "hearing_id", hearingID, "error", err)
		http.Error(w, "segment listing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, segmentsResponse{HearingID: hearingID, Segments: segments})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
