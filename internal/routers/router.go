package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"roomsync/internal/api"
	"roomsync/internal/metrics"
)

func New(h *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/v1/healthz", h.Health)
	r.Get("/api/v1/readyz", h.Ready)
	r.Get("/api/v1/languages", h.ListLanguages)
	r.Get("/api/v1/rooms/{id}", h.GetRoom)
	r.Delete("/api/v1/rooms/{id}", h.CloseRoom)
	r.Post("/api/v1/run", h.RunOnce)

	r.Get("/ws", h.RoomWS)

	r.Handle("/metrics", metrics.Handler())

	return r
}
