package api

import (
	"encoding/json"
	"net/http"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/deinline/internal/repository"
	"github.com/soochol/deinline/internal/services"
	"github.com/soochol/deinline/internal/storage"
)

// StoreFunc opens the asset store of one run.
type StoreFunc func(runID string) (storage.Storage, error)

// LocalStores keeps each run's images in its own sub-directory of dir.
func LocalStores(dir string) StoreFunc {
	return func(runID string) (storage.Storage, error) {
		return storage.NewLocalStorage(filepath.Join(dir, runID))
	}
}

// S3Stores keeps each run's images under prefix/<run-id>/ in bucket.
func S3Stores(client storage.S3API, bucket, prefix string) StoreFunc {
	return func(runID string) (storage.Storage, error) {
		return storage.NewS3Storage(client, bucket, path.Join(prefix, runID)), nil
	}
}

type Server struct {
	extractions *services.ExtractionService
	runs        repository.RunRepository
	limiter     *services.ConcurrencyLimiter
	stores      StoreFunc
	authSecret  []byte
}

// NewServer wires the HTTP API. Extracted images go to the store returned by
// stores for each run.
func NewServer(extractions *services.ExtractionService, runs repository.RunRepository, limiter *services.ConcurrencyLimiter, stores StoreFunc) *Server {
	if limiter == nil {
		limiter = services.NewConcurrencyLimiter(0)
	}
	return &Server{
		extractions: extractions,
		runs:        runs,
		limiter:     limiter,
		stores:      stores,
	}
}

// RequireAuth protects the /api routes with HS256 bearer tokens signed with
// secret. Extracted assets stay public so rewritten documents can load them.
func (s *Server) RequireAuth(secret string) {
	s.authSecret = []byte(secret)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Route("/api", func(r chi.Router) {
		if len(s.authSecret) > 0 {
			r.Use(requireToken(s.authSecret))
		}
		r.Post("/extract", s.extractDocument)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/export", s.exportRuns)
			r.Get("/{id}", s.getRun)
			r.Get("/{id}/files", s.listRunFiles)
			r.Delete("/{id}/files", s.deleteRunFiles)
		})
		r.Get("/stats", s.getStats)
	})
	r.Get("/assets/{id}/{file}", s.serveAsset)
	return r
}

// getStats returns current extraction concurrency.
// GET /api/stats
func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.limiter.Stats())
}
