package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/rs/zerolog/log"
)

// Discord connects a CommandHandler to the Discord gateway.
type Discord struct {
	session *discordgo.Session
	handler *CommandHandler
}

// NewDiscord creates a session for token. Open must be called to connect.
func NewDiscord(token string, handler *CommandHandler) (*Discord, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d := &Discord{session: session, handler: handler}
	session.AddHandler(d.onReady)
	session.AddHandler(d.onMessageCreate)
	return d, nil
}

// Open connects to the gateway.
func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	return d.session.Close()
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("🤖 Logged in to Discord")
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !d.handler.Matches(m.Content) {
		return
	}

	ctx := logging.WithRequestID(context.Background(), logging.GenerateRequestID())
	msg := Message{
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	}
	if m.GuildID != "" {
		id, err := strconv.ParseInt(m.GuildID, 10, 64)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("guild_id", m.GuildID).Msg("⚠️ Unexpected guild id")
			return
		}
		msg.ServerID = id
		msg.IsAdmin = d.isAdmin(m.Author.ID, m.ChannelID)
	}
	for _, u := range m.Mentions {
		if u.ID != s.State.User.ID {
			msg.Mentions = append(msg.Mentions, u.ID)
		}
	}

	if err := d.handler.Handle(ctx, msg, channelResponder{d: d, channelID: m.ChannelID}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("channel_id", m.ChannelID).Msg("❌ Failed to reply")
	}
}

func (d *Discord) isAdmin(userID, channelID string) bool {
	perms, err := d.session.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		perms, err = d.session.UserChannelPermissions(userID, channelID)
		if err != nil {
			return false
		}
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// PostMessage sends text to channelID.
func (d *Discord) PostMessage(_ context.Context, channelID, text string) error {
	_, err := d.session.ChannelMessageSend(channelID, text)
	return err
}

// DirectMessage opens (or reuses) the DM channel with userID and sends text.
func (d *Discord) DirectMessage(ctx context.Context, userID, text string) error {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	return d.PostMessage(ctx, ch.ID, text)
}

// DisplayName returns the member's server nickname, then global name, then username.
func (d *Discord) DisplayName(_ context.Context, serverID int64, userID string) (string, error) {
	guildID := strconv.FormatInt(serverID, 10)
	member, err := d.session.State.Member(guildID, userID)
	if err != nil {
		member, err = d.session.GuildMember(guildID, userID)
		if err != nil {
			return "", fmt.Errorf("resolve member %s: %w", userID, err)
		}
	}
	switch {
	case member.Nick != "":
		return member.Nick, nil
	case member.User != nil && member.User.GlobalName != "":
		return member.User.GlobalName, nil
	case member.User != nil:
		return member.User.Username, nil
	}
	return "", fmt.Errorf("member %s has no name", userID)
}

// ServerName returns the guild name.
func (d *Discord) ServerName(_ context.Context, serverID int64) (string, error) {
	guildID := strconv.FormatInt(serverID, 10)
	if g, err := d.session.State.Guild(guildID); err == nil && g.Name != "" {
		return g.Name, nil
	}
	g, err := d.session.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("resolve guild %s: %w", guildID, err)
	}
	return g.Name, nil
}

type channelResponder struct {
	d         *Discord
	channelID string
}

func (r channelResponder) Reply(ctx context.Context, text string) error {
	return r.d.PostMessage(ctx, r.channelID, text)
}

func (r channelResponder) DirectMessage(ctx context.Context, userID, text string) error {
	return r.d.DirectMessage(ctx, userID, text)
}
