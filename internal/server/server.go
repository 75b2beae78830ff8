// Package server provides the HTTP API for ragdex.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragdex/ragdex/internal/chunk"
	"github.com/ragdex/ragdex/internal/config"
	"github.com/ragdex/ragdex/internal/extract"
	"github.com/ragdex/ragdex/internal/index"
)

// Server is the HTTP server for the ragdex API.
type Server struct {
	index     *index.Index
	extractor *extract.Extractor
	chunker   *chunk.Chunker
	config    config.ServerConfig
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(idx *index.Index, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		index:     idx,
		extractor: extract.NewExtractor(),
		chunker:   chunk.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		config:    cfg.Server,
		logger:    logger,
	}
}

// Router builds the chi router. Exposed separately so tests can drive it
// through httptest without a listening socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(corsLocal)

	r.Get("/healthz", s.handleHealth)
	r.Post("/ingest", s.handleIngest)
	r.Post("/upload", s.handleUpload)
	r.Post("/query", s.handleQuery)
	r.Post("/delete", s.handleDelete)
	r.Delete("/delete", s.handleDelete)
	r.Get("/index", s.handleIndex)
	r.Get("/index/grouped", s.handleIndexGrouped)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server_starting", slog.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsLocal allows any origin. The API binds to localhost by default and the
// original frontend runs on an arbitrary local dev port.
func corsLocal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
