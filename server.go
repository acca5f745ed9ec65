// server.go
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"driftpad/internal/api"
)

// newRouter builds the root HTTP router. Request-scoped middleware lives
// here; route-level auth lives inside the API router so /health stays open.
func newRouter(svcs api.Services, authorize func(*http.Request) bool, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Mount("/api", api.NewRouter(svcs, authorize, wsHandler))

	return r
}
