package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetServerConfig returns the settings of serverID, or the defaults when the
// server never changed anything.
func GetServerConfig(ctx context.Context, db *gorm.DB, serverID int64) (models.ServerConfig, error) {
	var cfg models.ServerConfig
	err := db.WithContext(ctx).Where("server_id = ?", serverID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultServerConfig(serverID), nil
	}
	if err != nil {
		return models.ServerConfig{}, fmt.Errorf("load server config %d: %w", serverID, err)
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = models.DefaultLeaderboardSize
	}
	return cfg, nil
}

// SaveServerConfig inserts or replaces the settings row.
func SaveServerConfig(ctx context.Context, db *gorm.DB, cfg *models.ServerConfig) error {
	if err := db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("save server config %d: %w", cfg.ServerID, err)
	}
	return nil
}

// ListScheduledServers returns servers with a display cadence and a channel to post in.
func ListScheduledServers(ctx context.Context, db *gorm.DB) ([]models.ServerConfig, error) {
	var cfgs []models.ServerConfig
	err := db.WithContext(ctx).
		Where("display_cadence <> ? AND channel_id <> ''", models.CadenceOff).
		Order("server_id").
		Find(&cfgs).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled servers: %w", err)
	}
	return cfgs, nil
}

// MarkDisplayed records when the scheduled leaderboard was last posted.
func MarkDisplayed(ctx context.Context, db *gorm.DB, serverID int64, at time.Time) error {
	err := db.WithContext(ctx).
		Model(&models.ServerConfig{}).
		Where("server_id = ?", serverID).
		Update("last_displayed_at", at).Error
	if err != nil {
		return fmt.Errorf("mark server %d displayed: %w", serverID, err)
	}
	return nil
}

type serversFile struct {
	Servers []models.ServerConfig `yaml:"servers"`
}

// LoadServerSeed parses a YAML file of the form
//
//	servers:
//	  - server_id: 892121935658504232
//	    channel_id: "1234"
//	    leaderboard_size: 10
//	    display_cadence: weekly
//	    display_time: "18:00"
func LoadServerSeed(path string) ([]models.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server seed: %w", err)
	}
	var file serversFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse server seed: %w", err)
	}
	for i := range file.Servers {
		s := &file.Servers[i]
		if s.ServerID == 0 {
			return nil, fmt.Errorf("server seed entry %d: missing server_id", i)
		}
		if s.LeaderboardSize <= 0 {
			s.LeaderboardSize = models.DefaultLeaderboardSize
		}
		if s.DisplayCadence == "" {
			s.DisplayCadence = models.CadenceOff
		}
		if s.DefaultRange == "" {
			s.DefaultRange = "week"
		}
	}
	return file.Servers, nil
}

// ImportServerConfigs inserts seed rows for servers that have no settings yet.
// Settings already changed through commands are left alone.
func ImportServerConfigs(ctx context.Context, db *gorm.DB, cfgs []models.ServerConfig) (int64, error) {
	if len(cfgs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cfgs)
	if res.Error != nil {
		return 0, fmt.Errorf("import server configs: %w", res.Error)
	}
	log.Info().Int64("imported", res.RowsAffected).Int("entries", len(cfgs)).Msg("📥 Server settings seeded")
	return res.RowsAffected, nil
}
