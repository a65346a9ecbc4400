package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires the API routes. Paths other than /api and /health are
// served from staticDir.
func NewRouter(h *Handler, staticDir string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HandleHealth)
	r.Get("/api", h.HandleAPI)
	r.Post("/api", h.HandleAPI)
	r.MethodNotAllowed(h.HandleMethodNotAllowed)

	if staticDir != "" {
		static := http.FileServer(http.Dir(staticDir))
		r.Get("/*", static.ServeHTTP)
		r.Head("/*", static.ServeHTTP)
	}

	return r
}
