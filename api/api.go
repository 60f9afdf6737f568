// Package api exposes the assay control surface over HTTP.
//
// The surface is thin CRUD plus the admission operations: import
// questions, create/start/resume runs, request exports. All pipeline
// semantics live in the runtime package; handlers validate, delegate
// and shape responses. Routes sit under /api/v1 and authenticate with
// an x-api-key header; /healthz and /metrics are exempt.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/runtime"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// Enqueuer is the queue surface the handlers need: export tasks are
// enqueued at export admission.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, t queue.Task) error
}

// MapperChecker validates a mapper reference at export admission.
// *mapper.Registry satisfies it.
type MapperChecker interface {
	Has(name, version string) bool
	Names() []string
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Store store.Store
	// Registry gates run admission: specs naming a disabled provider
	// are rejected before any item exists.
	Registry *provider.Registry
	// Runs starts and resumes runs.
	Runs *runtime.RunService
	// Queue receives export tasks.
	Queue Enqueuer
	// Mappers verifies mapper references on exports.
	Mappers MapperChecker
	// Collector serves /metrics. Nil disables the endpoint.
	Collector *metrics.Collector
	Logger    *log.Logger
	// APIKeys are the accepted x-api-key values. Empty disables auth.
	APIKeys []string
}

// Server is the HTTP API.
type Server struct {
	config   ServerConfig
	validate *validator.Validate
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{config: cfg, validate: validator.New()}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.config.Collector != nil {
		r.Method(http.MethodGet, "/metrics", s.config.Collector.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns/{campaignID}", s.handleGetCampaign)
		r.Post("/campaigns/{campaignID}/topics", s.handleCreateTopic)

		r.Post("/personas", s.handleCreatePersona)
		r.Get("/personas", s.handleListPersonas)

		r.Post("/question-sets/import", s.handleImportQuestions)

		r.Post("/runs", s.handleCreateRun)
		r.Post("/runs/{runID}/start", s.handleStartRun)
		r.Post("/runs/{runID}/resume", s.handleResumeRun)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/items", s.handleGetRunItems)
		r.Get("/runs/{runID}/results/download", s.handleDownloadResults)

		r.Post("/exports", s.handleCreateExport)
		r.Get("/exports/{exportID}", s.handleGetExport)
		r.Get("/deliveries/{deliveryID}", s.handleGetDelivery)
	})

	return r
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Store.Ping(r.Context()); err != nil {
		errorJSON(w, http.StatusServiceUnavailable, "UNAVAILABLE", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: types.Version})
}

// authenticate enforces the x-api-key header. An empty key list turns
// auth off for local development.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("x-api-key")
		for _, accepted := range s.config.APIKeys {
			if key == accepted {
				next.ServeHTTP(w, r)
				return
			}
		}
		errorJSON(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid x-api-key")
	})
}
