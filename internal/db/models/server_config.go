package models

import "time"

// Display cadences for the scheduled leaderboard post.
const (
	CadenceOff    = "off"
	CadenceDaily  = "daily"
	CadenceWeekly = "weekly"
)

// DefaultLeaderboardSize is used when a server never configured its own size.
const DefaultLeaderboardSize = 5

// ServerConfig stores per-server settings changed through admin commands.
type ServerConfig struct {
	ServerID        int64      `gorm:"primaryKey;autoIncrement:false" json:"server_id" yaml:"server_id"`
	ChannelID       string     `gorm:"size:32" json:"channel_id" yaml:"channel_id"`
	LeaderboardSize int        `gorm:"default:5" json:"leaderboard_size" yaml:"leaderboard_size"`
	DisplayCadence  string     `gorm:"size:16;default:'off'" json:"display_cadence" yaml:"display_cadence"`
	DisplayTime     string     `gorm:"size:5" json:"display_time" yaml:"display_time"` // HH:MM, UTC
	DefaultRange    string     `gorm:"size:16;default:'week'" json:"default_range" yaml:"default_range"`
	LastDisplayedAt *time.Time `json:"last_displayed_at,omitempty" yaml:"-"`
	CreatedAt       time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"-"`
}

// DefaultServerConfig returns the settings a server has before any admin change.
func DefaultServerConfig(serverID int64) ServerConfig {
	return ServerConfig{
		ServerID:        serverID,
		LeaderboardSize: DefaultLeaderboardSize,
		DisplayCadence:  CadenceOff,
		DefaultRange:    "week",
	}
}
