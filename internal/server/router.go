// Package server exposes the bot's operations over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/imMewtable/wakatime-bot/internal/bot"
	"github.com/imMewtable/wakatime-bot/internal/server/handlers"
	"github.com/imMewtable/wakatime-bot/internal/server/middleware"
)

// CallbackPath is where WakaTime redirects after consent when the app's
// redirect URI points at this server.
const CallbackPath = "/auth/wakatime/callback"

// NewRouter builds the HTTP API. Routes under /api require apiKey when set.
func NewRouter(svc *bot.Service, apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// ============================================
	// Public Routes (No Auth Required)
	// ============================================
	r.Get("/healthz", handlers.HealthHandler())
	r.Get(CallbackPath, handlers.CallbackHandler(svc))

	// ============================================
	// API Routes (API key)
	// ============================================
	r.Route("/api/servers/{serverID}", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(apiKey))
		r.Get("/config", handlers.ServerConfigHandler(svc))
		r.Get("/leaderboard", handlers.LeaderboardHandler(svc))
		r.Get("/users/{userID}/stats", handlers.UserStatsHandler(svc))
		r.Post("/refresh", handlers.RefreshHandler(svc))
	})

	return r
}
