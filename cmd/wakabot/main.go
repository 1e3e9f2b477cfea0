package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/auth/wakatime"
	"github.com/imMewtable/wakatime-bot/internal/bot"
	"github.com/imMewtable/wakatime-bot/internal/config"
	"github.com/imMewtable/wakatime-bot/internal/db"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/imMewtable/wakatime-bot/internal/server"
	"github.com/imMewtable/wakatime-bot/internal/stats"
	"github.com/imMewtable/wakatime-bot/internal/version"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(cfg.LogLevel, cfg.AppEnv)
	log.Info().Str("version", version.String()).Msg("🚀 WakaTime bot starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	database, err := db.InitDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if sqlDB, err := database.DB(); err == nil {
		defer sqlDB.Close()
	}

	if cfg.ServersFile != "" {
		seed, err := db.LoadServerSeed(cfg.ServersFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.ServersFile).Msg("Failed to load server settings")
		}
		if _, err := db.ImportServerConfigs(ctx, database, seed); err != nil {
			log.Fatal().Err(err).Msg("Failed to import server settings")
		}
	}

	// Remote clients
	oauthClient := wakatime.NewClient(cfg.WakaAppID, cfg.WakaAppSecret, cfg.WakaRedirectURI, cfg.WakaScopes,
		wakatime.WithEndpoint(cfg.WakaAuthURL, cfg.WakaTokenURL),
		wakatime.WithTimeout(cfg.HTTPTimeout),
	)
	statsClient := stats.NewClient(
		stats.WithBaseURL(cfg.WakaAPIBaseURL),
		stats.WithRateLimit(cfg.StatsRateLimit),
		stats.WithTimeout(cfg.HTTPTimeout),
	)

	svc := bot.NewService(bot.Deps{
		DB:                 database,
		Auth:               oauthClient,
		Stats:              statsClient,
		StateTTL:           cfg.StateTTL,
		RefreshConcurrency: cfg.RefreshConcurrency,
		FetchConcurrency:   cfg.FetchConcurrency,
	})
	svc.Tokens().StartRefreshLoop(ctx, cfg.TokenRefreshInterval)
	go purgeStates(ctx, database, cfg.StateTTL)

	// Chat platform
	if cfg.DiscordToken != "" {
		discord, err := bot.NewDiscord(cfg.DiscordToken, bot.NewCommandHandler(svc, cfg.BotPrefix))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Discord session")
		}
		svc.SetDirectory(discord)
		if err := discord.Open(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Discord")
		}
		defer discord.Close()
		bot.NewScheduler(svc, discord, cfg.ScheduleInterval).Start(ctx)
	} else {
		log.Warn().Msg("⚠️ DISCORD_TOKEN not set, running HTTP API only")
	}

	if cfg.APIKey == "" {
		log.Warn().Msg("⚠️ API_KEY not set, /api routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewRouter(svc, cfg.APIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("🌐 HTTP API listening")
		log.Info().Str("url", "http://"+cfg.Addr()+server.CallbackPath).Msg("🔌 OAuth callback")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("👋 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}

// purgeStates drops expired authorization links every interval.
func purgeStates(ctx context.Context, database *gorm.DB, interval time.Duration) {
	store := db.NewStateStore(database)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("⚠️ Failed to purge authorization states")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("🧹 Expired authorization states removed")
			}
		}
	}
}
