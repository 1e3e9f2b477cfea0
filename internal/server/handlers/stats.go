package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/imMewtable/wakatime-bot/internal/bot"
	"github.com/imMewtable/wakatime-bot/internal/stats"
)

// LeaderboardHandler renders GET /api/servers/{serverID}/leaderboard?range=&limit=&name=.
func LeaderboardHandler(svc *bot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok := serverIDParam(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		tr, err := stats.ParseTimeRange(q.Get("range"))
		if err != nil {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 1 || limit > bot.MaxLeaderboardSize {
				writeText(w, http.StatusBadRequest, "invalid limit")
				return
			}
		}

		text, err := svc.Leaderboard(r.Context(), serverID, q.Get("name"), tr, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeText(w, http.StatusOK, text)
	}
}

// UserStatsHandler renders GET /api/servers/{serverID}/users/{userID}/stats?range=.
func UserStatsHandler(svc *bot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok := serverIDParam(w, r)
		if !ok {
			return
		}
		tr, err := stats.ParseTimeRange(r.URL.Query().Get("range"))
		if err != nil {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}

		text, err := svc.IndividualStats(r.Context(), chi.URLParam(r, "userID"), serverID, tr)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeText(w, http.StatusOK, text)
	}
}
