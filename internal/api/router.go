package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kitd/internal/scriptservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *scriptservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Scripts.
	r.Get("/scripts", h.ListScripts)
	r.Get("/scripts/dependents/*", h.Dependents)
	r.Get("/scripts/*", h.GetScript)
	r.Post("/run", h.Run)

	// Search.
	r.Get("/search", h.Search)

	// Registries.
	r.Get("/triggers/{kind}", h.Triggers)
	r.Get("/snippets/match", h.MatchSnippet)
	r.Post("/system/{event}", h.FireSystem)
	r.Post("/shortcuts/press", h.PressShortcut)

	r.Get("/status", h.Status)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// MountHealth adds the unauthenticated liveness and readiness probes.
func MountHealth(r chi.Router, svc *scriptservice.Service) {
	h := NewHandler(svc)
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
}
