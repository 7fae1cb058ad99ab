package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setHome(t *testing.T) {
	t.Helper()
	t.Setenv("MY_LAT", "45.4215")
	t.Setenv("MY_LON", "-75.6972")
}

func TestLoad_Defaults(t *testing.T) {
	setHome(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 45.4215, cfg.Home.Lat, 1e-9)
	assert.InDelta(t, -75.6972, cfg.Home.Lon, 1e-9)
	assert.Equal(t, 100.0, cfg.RecordRadiusKm)
	assert.Equal(t, 10.0, cfg.AirspaceRadiusKm)
	assert.Equal(t, 10*time.Second, cfg.SleepTime)
	assert.Equal(t, time.Hour, cfg.DebounceInterval)
	assert.Equal(t, 30*time.Minute, cfg.PostLag)
	assert.False(t, cfg.AeroAPIEnabled)
	assert.False(t, cfg.PostEnabled)
	assert.False(t, cfg.PostgresEnabled)
	assert.Equal(t, "aero_alerts.db", cfg.SQLitePath)
	assert.Equal(t, ":8080", cfg.StatusAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_CustomEnv(t *testing.T) {
	setHome(t)
	t.Setenv("RECORD_RADIUS_KM", "50")
	t.Setenv("AIRSPACE_RADIUS_KM", "5")
	t.Setenv("SLEEP_TIME", "30")
	t.Setenv("AIRCRAFT_DEBOUNCE", "900")
	t.Setenv("BSKY_POST_LAG", "600")
	t.Setenv("AEROAPI_ENABLED", "true")
	t.Setenv("AEROAPI_KEY", "key-123")
	t.Setenv("AEROAPI_LIMIT", "5")
	t.Setenv("POSTGRES_ENABLED", "true")
	t.Setenv("POSTGRES_SERVER", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "alerts")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.RecordRadiusKm)
	assert.Equal(t, 5.0, cfg.AirspaceRadiusKm)
	assert.Equal(t, 30*time.Second, cfg.SleepTime)
	assert.Equal(t, 15*time.Minute, cfg.DebounceInterval)
	assert.Equal(t, 10*time.Minute, cfg.PostLag)
	assert.True(t, cfg.AeroAPIEnabled)
	assert.Equal(t, "key-123", cfg.AeroAPIKey)
	assert.Equal(t, 5.0, cfg.AeroAPILimit)
	assert.True(t, cfg.PostgresEnabled)
	assert.Equal(t, "db.internal", cfg.PostgresServer)
	assert.Equal(t, 5433, cfg.PostgresPort)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingHome(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MY_LAT")
}

func TestLoad_AirspaceExceedsRecordRadius(t *testing.T) {
	setHome(t)
	t.Setenv("RECORD_RADIUS_KM", "10")
	t.Setenv("AIRSPACE_RADIUS_KM", "20")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AIRSPACE_RADIUS_KM")
}

func TestLoad_AeroAPIWithoutKey(t *testing.T) {
	setHome(t)
	t.Setenv("AEROAPI_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AEROAPI_KEY")
}

func TestLoad_PostingWithoutCredentials(t *testing.T) {
	setHome(t)
	t.Setenv("BSKY_POST_ENABLED", "true")
	t.Setenv("BSKY_ACCOUNT", "watcher.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BSKY_APP_PASS")
}

func TestLoad_InvalidDebounce(t *testing.T) {
	setHome(t)
	t.Setenv("AIRCRAFT_DEBOUNCE", "-5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AIRCRAFT_DEBOUNCE")
}

func TestLoad_BackupWithoutBucket(t *testing.T) {
	setHome(t)
	t.Setenv("BACKUP_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKUP_BUCKET")
}
