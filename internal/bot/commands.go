package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/imMewtable/wakatime-bot/internal/stats"
)

// MaxLeaderboardSize bounds `config size` and the leaderboard limit argument.
const MaxLeaderboardSize = 25

// Message is a chat message addressed to the bot. ServerID is 0 for direct
// messages.
type Message struct {
	UserID    string
	ServerID  int64
	ChannelID string
	Content   string
	Mentions  []string
	IsAdmin   bool
}

// Responder delivers replies for one message.
type Responder interface {
	Reply(ctx context.Context, text string) error
	DirectMessage(ctx context.Context, userID, text string) error
}

// CommandHandler parses prefixed chat commands and runs them on a Service.
type CommandHandler struct {
	svc    *Service
	prefix string
}

// NewCommandHandler creates a handler for commands starting with prefix.
func NewCommandHandler(svc *Service, prefix string) *CommandHandler {
	return &CommandHandler{svc: svc, prefix: prefix}
}

// Prefix returns the command prefix.
func (h *CommandHandler) Prefix() string {
	return h.prefix
}

// Matches reports whether content is addressed to the bot.
func (h *CommandHandler) Matches(content string) bool {
	fields := strings.Fields(content)
	return len(fields) > 0 && strings.EqualFold(fields[0], h.prefix)
}

// Handle runs the command in msg. Operation failures are answered in chat;
// the returned error only reports a failed reply.
func (h *CommandHandler) Handle(ctx context.Context, msg Message, resp Responder) error {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 || !strings.EqualFold(fields[0], h.prefix) {
		return nil
	}
	if len(fields) == 1 {
		return resp.Reply(ctx, h.help())
	}
	cmd, args := strings.ToLower(fields[1]), fields[2:]

	logging.Ctx(ctx).Info().
		Str("command", cmd).
		Str("user_id", msg.UserID).
		Int64("server_id", msg.ServerID).
		Msg("📨 Command received")

	switch cmd {
	case "register":
		return h.register(ctx, msg, resp)
	case "auth":
		return h.auth(ctx, msg, args, resp)
	case "stats":
		return h.stats(ctx, msg, args, resp)
	case "leaderboard", "lb":
		return h.leaderboard(ctx, msg, args, resp)
	case "config":
		return h.config(ctx, msg, args, resp)
	case "help":
		return resp.Reply(ctx, h.help())
	default:
		return resp.Reply(ctx, fmt.Sprintf("Unknown command `%s`. Try `%s help`.", cmd, h.prefix))
	}
}

func (h *CommandHandler) fail(ctx context.Context, resp Responder, err error) error {
	text := UserMessage(err)
	if text == MsgInternalError {
		logging.Ctx(ctx).Error().Err(err).Msg("❌ Command failed")
	}
	return resp.Reply(ctx, text)
}

func (h *CommandHandler) register(ctx context.Context, msg Message, resp Responder) error {
	if msg.ServerID == 0 {
		return resp.Reply(ctx, MsgGuildOnly)
	}
	url, err := h.svc.BeginRegistration(ctx, msg.UserID, msg.ServerID)
	if err != nil {
		return h.fail(ctx, resp, err)
	}
	dm := fmt.Sprintf("Authorize the bot to read your WakaTime stats:\n%s\n\nThen send me `%s auth <code>` here.", url, h.prefix)
	if err := resp.DirectMessage(ctx, msg.UserID, dm); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", msg.UserID).Msg("⚠️ Could not send direct message")
		return resp.Reply(ctx, "I couldn't send you a direct message. Please allow DMs from server members and try again.")
	}
	return resp.Reply(ctx, MsgCheckDM)
}

func (h *CommandHandler) auth(ctx context.Context, msg Message, args []string, resp Responder) error {
	if len(args) != 1 {
		return resp.Reply(ctx, fmt.Sprintf("Usage: `%s auth <code>`", h.prefix))
	}
	code := args[0]
	var err error
	if msg.ServerID == 0 {
		_, err = h.svc.CompleteAuthorizationForUser(ctx, msg.UserID, code)
	} else {
		err = h.svc.CompleteAuthorization(ctx, msg.UserID, msg.ServerID, code)
	}
	if err != nil {
		return h.fail(ctx, resp, err)
	}
	return resp.Reply(ctx, MsgAuthorized)
}

func (h *CommandHandler) stats(ctx context.Context, msg Message, args []string, resp Responder) error {
	if msg.ServerID == 0 {
		return resp.Reply(ctx, MsgGuildOnly)
	}
	target := msg.UserID
	if len(msg.Mentions) > 0 {
		target = msg.Mentions[0]
	}
	var rangeArg string
	for _, a := range args {
		if isMention(a) {
			continue
		}
		rangeArg = a
	}
	r, err := h.resolveRange(ctx, msg.ServerID, rangeArg)
	if err != nil {
		return resp.Reply(ctx, err.Error())
	}
	text, err := h.svc.IndividualStats(ctx, target, msg.ServerID, r)
	if err != nil {
		return h.fail(ctx, resp, err)
	}
	return resp.Reply(ctx, text)
}

func (h *CommandHandler) leaderboard(ctx context.Context, msg Message, args []string, resp Responder) error {
	if msg.ServerID == 0 {
		return resp.Reply(ctx, MsgGuildOnly)
	}
	var rangeArg string
	limit := 0
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			if n < 1 || n > MaxLeaderboardSize {
				return resp.Reply(ctx, fmt.Sprintf("Limit must be between 1 and %d.", MaxLeaderboardSize))
			}
			limit = n
			continue
		}
		rangeArg = a
	}
	r, err := h.resolveRange(ctx, msg.ServerID, rangeArg)
	if err != nil {
		return resp.Reply(ctx, err.Error())
	}
	text, err := h.svc.Leaderboard(ctx, msg.ServerID, "", r, limit)
	if err != nil {
		return h.fail(ctx, resp, err)
	}
	return resp.Reply(ctx, text)
}

// resolveRange parses arg, or falls back to the server's default range.
func (h *CommandHandler) resolveRange(ctx context.Context, serverID int64, arg string) (stats.TimeRange, error) {
	if arg == "" {
		cfg, err := h.svc.ServerConfig(ctx, serverID)
		if err == nil && cfg.DefaultRange != "" {
			arg = cfg.DefaultRange
		}
	}
	return stats.ParseTimeRange(arg)
}

func (h *CommandHandler) config(ctx context.Context, msg Message, args []string, resp Responder) error {
	if msg.ServerID == 0 {
		return resp.Reply(ctx, MsgGuildOnly)
	}
	if !msg.IsAdmin {
		return resp.Reply(ctx, MsgAdminOnly)
	}
	if len(args) == 0 {
		cfg, err := h.svc.ServerConfig(ctx, msg.ServerID)
		if err != nil {
			return h.fail(ctx, resp, err)
		}
		return resp.Reply(ctx, describeConfig(cfg))
	}

	setting, value := strings.ToLower(args[0]), ""
	if len(args) > 1 {
		value = args[1]
	}
	apply, err := configChange(setting, value, msg.ChannelID)
	if err != nil {
		return resp.Reply(ctx, err.Error())
	}
	cfg, err := h.svc.UpdateServerConfig(ctx, msg.ServerID, apply)
	if err != nil {
		return h.fail(ctx, resp, err)
	}
	logging.Ctx(ctx).Info().Int64("server_id", msg.ServerID).Str("setting", setting).Msg("⚙️ Server settings updated")
	return resp.Reply(ctx, describeConfig(cfg))
}

// configChange validates one `config <setting> <value>` command.
func configChange(setting, value, channelID string) (func(*models.ServerConfig) error, error) {
	switch setting {
	case "size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > MaxLeaderboardSize {
			return nil, fmt.Errorf("Leaderboard size must be a number between 1 and %d.", MaxLeaderboardSize)
		}
		return func(c *models.ServerConfig) error { c.LeaderboardSize = n; return nil }, nil
	case "cadence":
		v := strings.ToLower(value)
		if v != models.CadenceOff && v != models.CadenceDaily && v != models.CadenceWeekly {
			return nil, errors.New("Cadence must be daily, weekly or off.")
		}
		return func(c *models.ServerConfig) error { c.DisplayCadence = v; return nil }, nil
	case "time":
		if _, err := time.Parse("15:04", value); err != nil {
			return nil, errors.New("Time must be HH:MM in UTC, e.g. 18:00.")
		}
		return func(c *models.ServerConfig) error { c.DisplayTime = value; return nil }, nil
	case "channel":
		if channelID == "" {
			return nil, errors.New("Run this command in the channel that should receive leaderboards.")
		}
		return func(c *models.ServerConfig) error { c.ChannelID = channelID; return nil }, nil
	case "range":
		r, err := stats.ParseTimeRange(value)
		if err != nil || value == "" {
			return nil, errors.New("Range must be week, month, year or all_time.")
		}
		return func(c *models.ServerConfig) error { c.DefaultRange = string(r); return nil }, nil
	default:
		return nil, fmt.Errorf("Unknown setting %q. Use size, cadence, time, channel or range.", setting)
	}
}

func describeConfig(cfg models.ServerConfig) string {
	channel := "not set"
	if cfg.ChannelID != "" {
		channel = "<#" + cfg.ChannelID + ">"
	}
	displayTime := cfg.DisplayTime
	if displayTime == "" {
		displayTime = "00:00"
	}
	return fmt.Sprintf("**Settings**\nLeaderboard size: %d\nCadence: %s at %s UTC\nChannel: %s\nDefault range: %s",
		cfg.LeaderboardSize, cfg.DisplayCadence, displayTime, channel, cfg.DefaultRange)
}

func (h *CommandHandler) help() string {
	p := h.prefix
	return strings.Join([]string{
		"**WakaTime bot commands**",
		fmt.Sprintf("`%s register` link your WakaTime account", p),
		fmt.Sprintf("`%s auth <code>` finish linking (in a DM)", p),
		fmt.Sprintf("`%s stats [week|month|year|all_time] [@user]` coding time", p),
		fmt.Sprintf("`%s leaderboard [range] [limit]` server ranking", p),
		fmt.Sprintf("`%s config [size|cadence|time|channel|range] <value>` admin settings", p),
	}, "\n")
}

func isMention(s string) bool {
	return strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">")
}
