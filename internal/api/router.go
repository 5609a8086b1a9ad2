package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/typegen/internal/history"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// trigger may be nil, in which case POST /generate answers 503.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(lister ModelLister, store history.Store, trigger Trigger, authEnabled bool, token string, sseHandler http.Handler, logger *slog.Logger) chi.Router {
	h := NewHandler(lister, store, trigger, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Run history.
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/last", h.LastRun)

	// Current schema state.
	r.Get("/models", h.ListModels)
	r.Get("/outputs", h.ListOutputs)

	// Manual regeneration.
	r.Post("/generate", h.Generate)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
