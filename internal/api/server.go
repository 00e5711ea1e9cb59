package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docintake/internal/config"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/pipeline"
)

// Server is the HTTP API for document ingestion.
type Server struct {
	router chi.Router
	svc    *pipeline.Service
	queue  *pipeline.Queue
	stats  *ocr.Stats
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(svc *pipeline.Service, queue *pipeline.Queue, stats *ocr.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		svc:   svc,
		queue: queue,
		stats: stats,
		log:   log,
		cfg:   cfg,
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

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/documents", s.handleUpload)
		r.Get("/api/documents", s.handleListDocuments)
		r.Post("/api/documents/batch/process", s.handleBatchProcess)
		r.Get("/api/documents/{id}/chunks", s.handleChunks)
		r.Post("/api/documents/{id}/process", s.handleProcess)
		r.Get("/api/documents/{id}/quality", s.handleQuality)
		r.Post("/api/documents/{id}/reprocess", s.handleReprocess)
		r.Post("/api/documents/{id}/statement", s.handleStatement)

		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/stats/ocr", s.handleOCRStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
