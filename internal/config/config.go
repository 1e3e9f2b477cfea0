package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// SecretsFile is the env file the bot has always read its credentials from.
const SecretsFile = "secrets.env"

// Config holds every setting of the bot process.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	WakaAppID       string   `env:"WAKA_APP_ID,required"`
	WakaAppSecret   string   `env:"WAKA_APP_SECRET,required"`
	WakaRedirectURI string   `env:"WAKA_REDIRECT_URI" envDefault:"https://wakatime.com/oauth/test"`
	WakaScopes      []string `env:"WAKA_SCOPES" envSeparator:"," envDefault:"email,read_stats,read_logged_time"`
	WakaAuthURL     string   `env:"WAKA_AUTH_URL" envDefault:"https://wakatime.com/oauth/authorize"`
	WakaTokenURL    string   `env:"WAKA_TOKEN_URL" envDefault:"https://wakatime.com/oauth/token"`
	WakaAPIBaseURL  string   `env:"WAKA_API_BASE_URL" envDefault:"https://wakatime.com/api/v1/"`

	DiscordToken string `env:"DISCORD_TOKEN"`
	BotPrefix    string `env:"BOT_PREFIX" envDefault:"!waka"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"users.db"`

	Host   string `env:"HOST" envDefault:"127.0.0.1"`
	Port   string `env:"PORT" envDefault:"8080"`
	APIKey string `env:"API_KEY"`

	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	RefreshConcurrency   int           `env:"REFRESH_CONCURRENCY" envDefault:"16"`
	FetchConcurrency     int           `env:"FETCH_CONCURRENCY" envDefault:"16"`
	StatsRateLimit       int           `env:"STATS_RATE_LIMIT" envDefault:"10"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"0"`
	StateTTL             time.Duration `env:"STATE_TTL" envDefault:"15m"`
	ScheduleInterval     time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"1m"`
	ServersFile          string        `env:"SERVERS_FILE"`
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Load reads secrets.env and .env when present, then parses the environment.
func Load() (*Config, error) {
	for _, file := range []string{SecretsFile, ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.RefreshConcurrency < 1 || c.FetchConcurrency < 1 {
		return fmt.Errorf("REFRESH_CONCURRENCY and FETCH_CONCURRENCY must be at least 1")
	}
	if c.StatsRateLimit < 1 {
		return fmt.Errorf("STATS_RATE_LIMIT must be at least 1, got %d", c.StatsRateLimit)
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("STATE_TTL must be positive, got %s", c.StateTTL)
	}
	return nil
}

// MustLoad is Load for main: any error ends the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	return cfg
}
