// Package server provides the HTTP API for saiten.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/indexer"
	"github.com/hyperjump/saiten/internal/metrics"
	"github.com/hyperjump/saiten/internal/retrieval"
)

// Ingester builds and stores corpora.
type Ingester interface {
	Ingest(ctx context.Context, req indexer.IngestRequest) (*indexer.IngestResult, error)
	IngestFile(ctx context.Context, key corpus.Key, path string, allowedExts []string) (*indexer.IngestResult, error)
}

// Retriever answers context queries.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Grader grades essay batches synchronously or in the background.
type Grader interface {
	GradeBatch(ctx context.Context, job *grading.Job) (*grading.BatchResult, error)
	Submit(ctx context.Context, job *grading.Job) (string, error)
	Tracker() *grading.Tracker
}

// Describer reports what is stored for a corpus key.
type Describer interface {
	Describe(ctx context.Context, key corpus.Key) (*corpus.Description, error)
}

// Deps are the components the API serves.
type Deps struct {
	Ingester  Ingester
	Retriever Retriever
	Grader    Grader
	Corpora   Describer
	Metrics   *metrics.Metrics
	// AllowedExts limits server-side path ingestion; empty allows any extension.
	AllowedExts []string
	// Inbox is the only tree server-side path ingestion may read from; empty disables it.
	Inbox string
}

// Server is the HTTP server for the saiten API.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	return &Server{deps: deps, config: cfg, logger: logger}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Use(middleware.Compress(5))
		r.Post("/index", s.handleIndex)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/grade", s.handleGrade)
		r.Get("/jobs/{id}", s.handleJob)
		r.Get("/corpora/{owner}/{course}/{assignment}", s.handleCorpus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
