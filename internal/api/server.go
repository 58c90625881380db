// Package api exposes the registration, trigger and inspection endpoints
// over HTTP+JSON.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftwatch/driftwatch/internal/reindex"
	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/watcher"
)

// Server wires the HTTP surface to the store, reprocessor and watcher.
type Server struct {
	store     storage.Store
	proc      *reindex.Reprocessor
	watch     *watcher.Watcher
	watchOpts watcher.Options
	logger    *slog.Logger
}

func NewServer(store storage.Store, proc *reindex.Reprocessor, watch *watcher.Watcher, watchOpts watcher.Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		proc:      proc,
		watch:     watch,
		watchOpts: watchOpts,
		logger:    logger,
	}
}

// Router builds the chi router for the service.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/files/register", s.handleRegister)
	r.Post("/files/watch/run", s.handleWatchRun)
	r.Post("/files/reindex/{id}", s.handleReindex)
	r.Get("/debug/files", s.handleDebugFiles)
	r.Get("/healthz", s.handleHealth)

	return r
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}
