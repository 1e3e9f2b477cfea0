package bot

import (
	"context"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db"
	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/imMewtable/wakatime-bot/internal/stats"
	"github.com/rs/zerolog/log"
)

// Poster sends a message to a chat channel.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text string) error
}

// Scheduler posts leaderboards of servers with a display cadence.
type Scheduler struct {
	svc      *Service
	poster   Poster
	interval time.Duration
	now      func() time.Time
}

// NewScheduler checks for due servers every interval.
func NewScheduler(svc *Service, poster Poster, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		svc:      svc,
		poster:   poster,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(logging.WithRequestID(ctx, logging.GenerateRequestID()))
			}
		}
	}()
	log.Info().Dur("interval", s.interval).Msg("⏰ Leaderboard scheduler started")
}

// RunOnce posts every leaderboard that is due now and returns how many were sent.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	lg := logging.Ctx(ctx)
	cfgs, err := db.ListScheduledServers(ctx, s.svc.db)
	if err != nil {
		lg.Error().Err(err).Msg("⚠️ Failed to list scheduled servers")
		return 0
	}

	now := s.now()
	posted := 0
	for _, cfg := range cfgs {
		if !due(cfg, now) {
			continue
		}
		r, err := stats.ParseTimeRange(cfg.DefaultRange)
		if err != nil {
			r = stats.RangeWeek
		}
		text, err := s.svc.Leaderboard(ctx, cfg.ServerID, "", r, cfg.LeaderboardSize)
		if err != nil {
			lg.Error().Err(err).Int64("server_id", cfg.ServerID).Msg("⚠️ Scheduled leaderboard failed")
			continue
		}
		if err := s.poster.PostMessage(ctx, cfg.ChannelID, text); err != nil {
			lg.Error().Err(err).Int64("server_id", cfg.ServerID).Str("channel_id", cfg.ChannelID).Msg("⚠️ Failed to post leaderboard")
			continue
		}
		if err := db.MarkDisplayed(ctx, s.svc.db, cfg.ServerID, now); err != nil {
			lg.Error().Err(err).Int64("server_id", cfg.ServerID).Msg("⚠️ Failed to record leaderboard post")
		}
		posted++
		lg.Info().Int64("server_id", cfg.ServerID).Str("cadence", cfg.DisplayCadence).Msg("📣 Posted scheduled leaderboard")
	}
	return posted
}

// due reports whether cfg wants a post at now. The post goes out at the
// first check at or after display_time, once per day or once per seven days.
func due(cfg models.ServerConfig, now time.Time) bool {
	if cfg.ChannelID == "" {
		return false
	}
	var period int
	switch cfg.DisplayCadence {
	case models.CadenceDaily:
		period = 1
	case models.CadenceWeekly:
		period = 7
	default:
		return false
	}

	now = now.UTC()
	at, err := time.Parse("15:04", cfg.DisplayTime)
	if err != nil {
		at = time.Time{}
	}
	slot := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
	if now.Before(slot) {
		return false
	}
	if cfg.LastDisplayedAt == nil {
		return true
	}
	return cfg.LastDisplayedAt.Before(slot.AddDate(0, 0, 1-period))
}
