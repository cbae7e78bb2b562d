package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/embedding"
	"github.com/dgallion1/docingest/internal/metrics"
	"github.com/dgallion1/docingest/internal/pipeline"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

// Service is the document pipeline behind the API.
type Service interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
	Search(ctx context.Context, req pipeline.SearchRequest) ([]vectorstore.SearchResult, error)
	Keywords(text string, max int) ([]string, error)
	ListDocuments(ctx context.Context) ([]vectorstore.DocumentInfo, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
	Outline(ctx context.Context, q vectorstore.OutlineQuery) ([]string, error)
	StoreStats(ctx context.Context) (vectorstore.Stats, error)
	Health(ctx context.Context) error
	PoolStats() pipeline.PoolStats
}

// Jobs is the asynchronous ingestion queue.
type Jobs interface {
	Submit(filename string, data []byte, replaceDocumentID string) (*pipeline.Job, error)
	GetJob(id string) *pipeline.Job
	QueueDepth() int
}

type Config struct {
	APIKey         string // empty disables auth
	MaxUploadBytes int64
}

// Server is the HTTP API server for docingest.
type Server struct {
	router  chi.Router
	service Service
	jobs    Jobs
	latency *embedding.LatencyStats
	log     *zap.Logger
	cfg     Config
}

// NewServer creates and configures the HTTP server. latency may be nil.
func NewServer(service Service, jobs Jobs, latency *embedding.LatencyStats, log *zap.Logger, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		service: service,
		jobs:    jobs,
		latency: latency,
		log:     log,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(metrics.Middleware())

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}

		r.Post("/ingest", s.handleIngest)
		r.Post("/ingest/sync", s.handleIngestSync)
		r.Get("/ingest/{jobID}/status", s.handleIngestStatus)

		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{docID}", s.handleDeleteDocument)

		r.Post("/search", s.handleSearch)
		r.Post("/keywords", s.handleKeywords)

		r.Get("/outline/lvl1", s.handleOutline(vectorstore.OutlineLvl1, ""))
		r.Get("/outline/lvl2", s.handleOutline(vectorstore.OutlineLvl2, "lvl1"))
		r.Get("/outline/lvl3", s.handleOutline(vectorstore.OutlineLvl3, "lvl2"))
		r.Get("/outline/detail", s.handleOutline(vectorstore.OutlineDetail, "lvl3"))

		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Health(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
