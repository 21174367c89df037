package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openpermissions/chubindex/pkg/config"
	"github.com/openpermissions/chubindex/pkg/metrics"
	"github.com/openpermissions/chubindex/pkg/types"
)

// serviceName is reported by the root banner.
const serviceName = "Open Permissions Platform Index Service"

// Querier is the index query surface the API exposes.
type Querier interface {
	Query(ctx context.Context, ids []types.QueryInput, relatedDepth int) ([]types.QueryResult, error)
	DeleteEntity(ctx context.Context, pairs []types.QueryInput, repoID string) error
}

// Notifier accepts repository notifications without blocking.
type Notifier interface {
	TryPut(repoID string) bool
}

// Server is the HTTP front-end: entity queries, repository notifications and
// service introspection.
type Server struct {
	cfg     *config.Config
	db      Querier
	queue   Notifier
	version string
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, db Querier, queue Notifier, version string) *Server {
	s := &Server{
		cfg:     cfg,
		db:      db,
		queue:   queue,
		version: version,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.rootHandler)
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /entity-types/{entity_type}/id-types/{source_id_type}/ids/{source_id}/repositories", s.repositoriesHandler)
	s.mux.HandleFunc("POST /entity-types/{entity_type}/repositories", s.bulkRepositoriesHandler)
	s.mux.HandleFunc("DELETE /entity-types/{entity_type}/id-types/{source_id_type}/ids/{source_id}/repositories/{repository_id}", s.deleteHandler)
	s.mux.HandleFunc("POST /notifications", s.notificationsHandler)

	return s
}

// Handler returns the full handler chain, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return requestLogger(s.mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": http.StatusOK,
		"data": map[string]string{
			"service_name": serviceName,
			"service_id":   s.cfg.ServiceID,
			"version":      s.version,
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   s.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope. errs may be any JSON
// serialisable error list.
func writeError(w http.ResponseWriter, status int, errs any) {
	writeJSON(w, status, map[string]any{
		"status": status,
		"errors": errs,
	})
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, []map[string]string{{"message": message}})
}
