package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.Scoring.Tick)
	assert.Equal(t, 30*time.Second, cfg.Hub.LivenessInterval)
	assert.Equal(t, 64, cfg.Hub.SendQueueSize)
	assert.Equal(t, time.Duration(0), cfg.Songs.ReloadInterval)
	assert.Equal(t, 8, cfg.Lobby.MaxPlayersCap)
	assert.Empty(t, cfg.WS.Origins())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("SCORING_TICK", "250ms")
	t.Setenv("INBOUND_RATE", "2.5")
	t.Setenv("ALLOWED_ORIGINS", "example.com, *.example.org ,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Scoring.Tick)
	assert.Equal(t, 2.5, cfg.Hub.InboundRate)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.WS.Origins())
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SONGS_DIR=/srv/songs\nMAX_PLAYERS_CAP=6\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SONGS_DIR")
		os.Unsetenv("MAX_PLAYERS_CAP")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/songs", cfg.Songs.Dir)
	assert.Equal(t, 6, cfg.Lobby.MaxPlayersCap)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("PORT", "0")
	t.Setenv("SEND_QUEUE_SIZE", "-1")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "SEND_QUEUE_SIZE")
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("LIVENESS_INTERVAL", "soon")
	_, err := Load("")
	require.Error(t, err)
}
