package handlers

import (
	"net/http"

	"github.com/imMewtable/wakatime-bot/internal/bot"
)

// RefreshHandler refreshes every token of a server and reports the summary.
func RefreshHandler(svc *bot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok := serverIDParam(w, r)
		if !ok {
			return
		}
		summary, err := svc.RefreshServer(r.Context(), serverID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// ServerConfigHandler returns the settings of a server.
func ServerConfigHandler(svc *bot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok := serverIDParam(w, r)
		if !ok {
			return
		}
		cfg, err := svc.ServerConfig(r.Context(), serverID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}
