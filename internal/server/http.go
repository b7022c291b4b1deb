// Package server exposes the crawl-and-index service over JSON HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/webindex/internal/crawl"
	"github.com/knoguchi/webindex/internal/progress"
	"github.com/knoguchi/webindex/internal/service"
	"github.com/knoguchi/webindex/internal/urlutil"
	"github.com/knoguchi/webindex/internal/vectorstore"
)

// CrawlService is the job-side surface the API exposes.
type CrawlService interface {
	Start(ctx context.Context, req service.CrawlRequest) (string, error)
	Progress(id string) (progress.State, bool)
	Cancel(id string) bool
}

// SearchService is the query-side surface the API exposes.
type SearchService interface {
	SearchChunks(ctx context.Context, req service.SearchRequest) (*service.SearchResponse, error)
	GetChunk(ctx context.Context, id string) (*service.ChunkResult, error)
	ListScopes(ctx context.Context, project string) ([]service.ScopeInfo, error)
}

// Services groups the application services behind the HTTP API.
type Services struct {
	Crawl  CrawlService
	Search SearchService
}

// HTTPServer wraps an HTTP server with the JSON API routes
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	svcs   Services
	logger *slog.Logger
	port   int
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string // CORS allowed origins
}

// NewHTTPServer creates a new HTTP server over the given services
func NewHTTPServer(cfg HTTPServerConfig, svcs Services) (*HTTPServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create chi router
	router := chi.NewRouter()

	// Add middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	s := &HTTPServer{
		router: router,
		svcs:   svcs,
		logger: logger,
		port:   cfg.Port,
	}

	// Mount health check endpoints
	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())

	// Crawl job lifecycle
	router.Post("/crawl", s.handleCrawl)
	router.Get("/progress/{id}", s.handleProgress)
	router.Get("/result/{id}", s.handleResult)
	router.Post("/cancel/{id}", s.handleCancel)

	// Retrieval
	router.Post("/search", s.handleSearch)
	router.Get("/chunk/{id}", s.handleChunk)
	router.Get("/scopes", s.handleScopes)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the underlying chi router for additional route registration
func (s *HTTPServer) GetRouter() *chi.Mux {
	return s.router
}

// startResponse acknowledges an accepted crawl job.
type startResponse struct {
	ProgressID string `json:"progress_id"`
	Status     string `json:"status"`
}

// handleCrawl validates the request and launches a crawl job.
func (s *HTTPServer) handleCrawl(w http.ResponseWriter, r *http.Request) {
	req := service.DefaultCrawlRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.URLs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one URL is required")
		return
	}
	for _, raw := range req.URLs {
		if err := validateSeedURL(raw); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := s.svcs.Crawl.Start(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, startResponse{
		ProgressID: id,
		Status:     string(progress.StatusRunning),
	})
}

// handleProgress reports a job's full progress state.
func (s *HTTPServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, ok := s.svcs.Crawl.Progress(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown progress id")
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// resultResponse carries the crawled pages of a completed job.
type resultResponse struct {
	Project    string       `json:"project,omitempty"`
	Dataset    string       `json:"dataset,omitempty"`
	Mode       string       `json:"mode"`
	TotalPages int          `json:"total_pages"`
	Pages      []crawl.Page `json:"pages"`
}

// handleResult returns crawled pages once a job has completed.
func (s *HTTPServer) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, ok := s.svcs.Crawl.Progress(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown progress id")
		return
	}
	if state.Status != progress.StatusCompleted {
		respondError(w, http.StatusConflict, "crawl not completed")
		return
	}

	pages := state.Pages
	if pages == nil {
		pages = []crawl.Page{}
	}
	respondJSON(w, http.StatusOK, resultResponse{
		Project:    state.Project,
		Dataset:    state.Dataset,
		Mode:       state.Mode,
		TotalPages: len(pages),
		Pages:      pages,
	})
}

// handleCancel requests cooperative cancellation of a job.
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.svcs.Crawl.Cancel(id) {
		respondError(w, http.StatusNotFound, "unknown progress id")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": string(progress.StatusCancelled),
	})
}

// handleSearch runs a similarity search over stored chunks.
func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req service.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.svcs.Search.SearchChunks(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleChunk returns one stored chunk by id.
func (s *HTTPServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chunk, err := s.svcs.Search.GetChunk(r.Context(), id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "chunk not found")
			return
		}
		s.logger.Error("chunk lookup failed", "chunk_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, chunk)
}

// handleScopes lists per-collection chunk statistics.
func (s *HTTPServer) handleScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.svcs.Search.ListScopes(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		s.logger.Error("scope listing failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, scopes)
}

// validateSeedURL rejects seeds that are not plain http(s) URLs. Seeds
// without a scheme pass because the crawler upgrades them to https.
func validateSeedURL(raw string) error {
	parsed, err := url.Parse(urlutil.EnsureHTTPS(raw))
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %q", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q", raw)
	}
	return nil
}

// respondJSON writes v as a JSON response.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondError writes a JSON error body.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			if len(allowedOrigins) == 0 {
				// If no origins specified, allow all in development
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

// readinessCheckHandler returns a handler for the /readyz endpoint
func readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
		})
	}
}
