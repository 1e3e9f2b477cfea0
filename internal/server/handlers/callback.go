package handlers

import (
	"net/http"

	"github.com/imMewtable/wakatime-bot/internal/bot"
	"github.com/imMewtable/wakatime-bot/internal/logging"
)

// CallbackHandler completes an authorization when WakaTime redirects the
// browser back with ?code=&state=.
func CallbackHandler(svc *bot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if reason := q.Get("error"); reason != "" {
			writeText(w, http.StatusBadRequest, "Authorization was denied: "+reason)
			return
		}
		code, state := q.Get("code"), q.Get("state")
		if code == "" || state == "" {
			writeText(w, http.StatusBadRequest, "Missing code or state")
			return
		}

		pending, err := svc.CompleteAuthorizationByState(r.Context(), state, code)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logging.Ctx(r.Context()).Info().
			Str("user_id", pending.UserID).
			Int64("server_id", pending.ServerID).
			Msg("🔐 Authorization completed via redirect")
		writeText(w, http.StatusOK, bot.MsgAuthorized+" You can close this window.")
	}
}
