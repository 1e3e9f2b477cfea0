package handlers

import (
	"net/http"

	"github.com/imMewtable/wakatime-bot/internal/version"
)

// HealthHandler reports liveness and the build version.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
			"commit":  version.Commit,
		})
	}
}
