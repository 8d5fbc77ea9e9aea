// Package api exposes job control, result lookup and monitoring over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/monitoring"
	"github.com/sells-group/award-enricher/internal/store"
)

// Jobs is the job-control surface of the orchestrator.
type Jobs interface {
	Submit(ctx context.Context, spec model.JobSpec) (string, error)
	Status(jobID string) (model.EnrichmentJob, error)
	List() []model.EnrichmentJob
	Cancel(ctx context.Context, jobID string) error
}

// Store is the read side of persistence used by the API.
type Store interface {
	GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error)
	ListResults(ctx context.Context, recordID string) ([]model.EnrichmentResult, error)
	ListFindings(ctx context.Context, filter store.FindingFilter) ([]model.ConsistencyFinding, error)
	ReviewQueue(ctx context.Context, limit int) ([]model.EnrichmentResult, error)
	Ping(ctx context.Context) error
}

// Snapshotter produces a monitoring snapshot.
type Snapshotter interface {
	Collect(ctx context.Context) (*monitoring.MetricsSnapshot, error)
}

// Server wires HTTP routes to the orchestrator and store.
type Server struct {
	jobs      Jobs
	store     Store
	collector Snapshotter
	metrics   http.Handler
	origins   []string
	log       *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCollector enables GET /stats.
func WithCollector(c Snapshotter) Option {
	return func(s *Server) { s.collector = c }
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAllowedOrigins sets the CORS allow list. Default: any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server.
func New(jobs Jobs, st Store, opts ...Option) *Server {
	s := &Server{
		jobs:    jobs,
		store:   st,
		origins: []string{"*"},
		log:     zap.L().With(zap.String("component", "api")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	s.Register(r)
	return r
}

// Register mounts the job, record and review endpoints on r.
func (s *Server) Register(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmitJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Delete("/{id}", s.handleCancelJob)
	})
	r.Get("/records/{id}/results", s.handleRecordResults)
	r.Get("/review", s.handleReview)
	r.Get("/stats", s.handleStats)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
