package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_DefaultsAndSave(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)

	cfg, err := GetServerConfig(ctx, conn, 10)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultLeaderboardSize, cfg.LeaderboardSize)
	assert.Equal(t, models.CadenceOff, cfg.DisplayCadence)

	cfg.ChannelID = "chan"
	cfg.DisplayCadence = models.CadenceDaily
	cfg.DisplayTime = "18:00"
	cfg.LeaderboardSize = 10
	require.NoError(t, SaveServerConfig(ctx, conn, &cfg))

	got, err := GetServerConfig(ctx, conn, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, got.LeaderboardSize)
	assert.Equal(t, "18:00", got.DisplayTime)

	scheduled, err := ListScheduledServers(ctx, conn)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, int64(10), scheduled[0].ServerID)

	at := time.Date(2026, 1, 2, 18, 0, 0, 0, time.UTC)
	require.NoError(t, MarkDisplayed(ctx, conn, 10, at))
	got, err = GetServerConfig(ctx, conn, 10)
	require.NoError(t, err)
	require.NotNil(t, got.LastDisplayedAt)
	assert.True(t, at.Equal(*got.LastDisplayedAt))
}

func TestServerSeed(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)

	path := filepath.Join(t.TempDir(), "servers.yaml")
	seed := `servers:
  - server_id: 1
    channel_id: "100"
    display_cadence: weekly
    display_time: "09:30"
  - server_id: 2
    leaderboard_size: 3
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	cfgs, err := LoadServerSeed(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, models.DefaultLeaderboardSize, cfgs[0].LeaderboardSize)
	assert.Equal(t, models.CadenceOff, cfgs[1].DisplayCadence)
	assert.Equal(t, "week", cfgs[1].DefaultRange)

	existing := models.DefaultServerConfig(2)
	existing.LeaderboardSize = 8
	require.NoError(t, SaveServerConfig(ctx, conn, &existing))

	n, err := ImportServerConfigs(ctx, conn, cfgs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	kept, err := GetServerConfig(ctx, conn, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, kept.LeaderboardSize)
}

func TestServerSeed_MissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - channel_id: \"1\"\n"), 0o600))
	_, err := LoadServerSeed(path)
	assert.ErrorContains(t, err, "missing server_id")
}
