package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/api/middleware"
	"github.com/zeynepyuksell/fleeky-chat/internal/handlers"
	"github.com/zeynepyuksell/fleeky-chat/internal/identity"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, provider identity.Provider) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware first so it captures all requests.
	r.Use(middleware.Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAuth(provider)

	// Metrics endpoint (for Prometheus scraping).
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)

	// Everything else requires an identity-provider token.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms", h.ListRooms)
		r.Post("/rooms/join", h.JoinByCode)
		r.Post("/rooms/{id}/join", h.JoinPublic)
		r.Delete("/rooms/{id}", h.DeleteRoom)

		r.Get("/rooms/{id}/messages", h.GetMessages)
		r.Post("/rooms/{id}/messages", h.SendMessage)

		r.Get("/ws", h.Websocket)
	})

	return r
}
