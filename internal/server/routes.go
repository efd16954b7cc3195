package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router returns the relay's HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/healthz", HealthHandler)
	r.Get("/stats", s.StatsHandler)
	r.Get("/test", s.TestPageHandler)

	// All methods reach the handler so non-GET requests get a 405 with a
	// readable body instead of chi's default.
	r.HandleFunc("/ws", s.WebSocketHandler)

	return r
}
