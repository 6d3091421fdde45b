package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/hub"
	"github.com/gwentcup/draft-backend/internal/store"
	"github.com/gwentcup/draft-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, sessions store.Store, adminKey string, log *zap.Logger) http.Handler {
	handlers := NewHandlers(sessions, log)
	admin := NewAdmin(sessions, adminKey, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/api/lobbies", handlers.CreateLobby)
	r.Get("/api/lobbies/{code}", handlers.GetLobby)
	r.Put("/api/lobbies/{code}/join", handlers.JoinLobby)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, sessions, log))

	// Operator routes
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(admin.RequireKey)
		r.Get("/stats", admin.Stats)
		r.Post("/cleanup", admin.Cleanup)
		r.Get("/lobbies/{code}", admin.InspectLobby)
	})

	return r
}
