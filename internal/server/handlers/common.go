package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/imMewtable/wakatime-bot/internal/auth/wakatime"
	"github.com/imMewtable/wakatime-bot/internal/bot"
	"github.com/imMewtable/wakatime-bot/internal/db"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/imMewtable/wakatime-bot/internal/stats"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

// serverIDParam reads {serverID}, answering 400 itself when it is invalid.
func serverIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	if err != nil || id <= 0 {
		writeText(w, http.StatusBadRequest, "invalid server id")
		return 0, false
	}
	return id, true
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	var authErr *wakatime.AuthError
	var apiErr *stats.APIError
	switch {
	case errors.Is(err, db.ErrStateExpired):
		return http.StatusGone
	case errors.Is(err, db.ErrNotFound), errors.Is(err, bot.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the chat text for err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("❌ Request failed")
	}
	writeText(w, status, bot.UserMessage(err))
}
