// Package server exposes classification, feasibility scoring and cache
// maintenance over a JSON HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/scopesignal/internal/batch"
	"github.com/sells-group/scopesignal/internal/cache"
	"github.com/sells-group/scopesignal/internal/compliance"
	"github.com/sells-group/scopesignal/internal/model"
)

// DefaultMaxBatchItems caps the items accepted by one batch request.
const DefaultMaxBatchItems = 500

// Classifier classifies one request.
type Classifier interface {
	Classify(ctx context.Context, req model.ClassificationRequest) (model.ClassificationResult, model.DecisionProof, error)
}

// Scorer computes feasibility.
type Scorer interface {
	Score(req compliance.Request) model.FeasibilityResult
}

// BatchRunner runs batches.
type BatchRunner interface {
	Run(ctx context.Context, items []batch.Item) batch.Report
}

// Deps are the components the API serves.
type Deps struct {
	Classifier     Classifier
	Scorer         Scorer
	Runner         BatchRunner
	Cache          cache.Cache
	MaxBatchItems  int
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server routes API requests to the core components.
type Server struct {
	deps   Deps
	router chi.Router
}

// New builds a Server with its routes mounted.
func New(deps Deps) *Server {
	if deps.MaxBatchItems <= 0 {
		deps.MaxBatchItems = DefaultMaxBatchItems
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	s := &Server{deps: deps, router: chi.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if s.deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.deps.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(api chi.Router) {
		api.Post("/classify", s.handleClassify)
		api.Post("/feasibility", s.handleFeasibility)
		api.Post("/batch", s.handleBatch)
		api.Get("/cache/stats", s.handleCacheStats)
		api.Delete("/cache", s.handleCacheClear)
		api.Post("/cache/purge", s.handleCachePurge)
	})
}
