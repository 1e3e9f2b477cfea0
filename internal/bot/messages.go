package bot

import (
	"errors"

	"github.com/imMewtable/wakatime-bot/internal/auth/wakatime"
	"github.com/imMewtable/wakatime-bot/internal/db"
	"github.com/imMewtable/wakatime-bot/internal/stats"
)

// Replies shown to chat users.
const (
	MsgRegisterFirst     = "Please register first."
	MsgAlreadyRegistered = "You are already registered."
	MsgAuthFailed        = "Authentication failed, check the token."
	MsgNoData            = "No data available."
	MsgLinkExpired       = "Your registration link expired, please register again."
	MsgInternalError     = "Something went wrong, please try again later."
	MsgAdminOnly         = "Only server administrators can change settings."
	MsgGuildOnly         = "This command only works inside a server."
	MsgAuthorized        = "You're all set! Your WakaTime account is linked."
	MsgCheckDM           = "I sent you a direct message with your registration link."
)

// UserMessage maps an operation error to the text shown in chat.
func UserMessage(err error) string {
	var authErr *wakatime.AuthError
	var apiErr *stats.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, db.ErrStateExpired):
		return MsgLinkExpired
	case errors.Is(err, db.ErrNotFound):
		return MsgRegisterFirst
	case errors.Is(err, db.ErrConflict):
		return MsgAlreadyRegistered
	case errors.As(err, &authErr), errors.Is(err, wakatime.ErrMalformedResponse):
		return MsgAuthFailed
	case errors.As(err, &apiErr), errors.Is(err, ErrNoData):
		return MsgNoData
	default:
		return MsgInternalError
	}
}
