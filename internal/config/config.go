package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"aero_alerts/internal/geo"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Home zone geometry.
	Home             geo.Point
	RecordRadiusKm   float64
	AirspaceRadiusKm float64

	// Polling and timing.
	LiveDataURL      string
	SleepTime        time.Duration
	DebounceInterval time.Duration
	PostLag          time.Duration
	ShutdownTimeout  time.Duration

	// AeroAPI enrichment.
	AeroAPIEnabled bool
	AeroAPIKey     string
	AeroAPILimit   float64

	// Bluesky publishing.
	PostEnabled bool
	PostAccount string
	PostAppPass string

	// Storage.
	PostgresEnabled  bool
	PostgresServer   string
	PostgresPort     int
	PostgresDatabase string
	PostgresUser     string
	PostgresPassword string
	SQLitePath       string

	// Daily track history and backup.
	HistoryEnabled  bool
	SaveFolder      string
	BackupEnabled   bool
	BackupBucket    string
	BackupPrefix    string
	CredentialsFile string

	// Optional ClickHouse track archive.
	ArchiveEnabled     bool
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	// Optional NATS feed instead of HTTP polling.
	FeedNATSURL     string
	FeedNATSSubject string

	// Status HTTP server and logging.
	StatusAddr string
	LogLevel   string
	LogFormat  string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	lat, err := parseRequiredFloat("MY_LAT")
	if err != nil {
		return nil, err
	}
	lon, err := parseRequiredFloat("MY_LON")
	if err != nil {
		return nil, err
	}

	recordRadius, err := parseFloat("RECORD_RADIUS_KM", 100)
	if err != nil {
		return nil, err
	}
	airspaceRadius, err := parseFloat("AIRSPACE_RADIUS_KM", 10)
	if err != nil {
		return nil, err
	}

	sleepTime, err := parseSeconds("SLEEP_TIME", 10*time.Second)
	if err != nil {
		return nil, err
	}
	debounce, err := parseSeconds("AIRCRAFT_DEBOUNCE", time.Hour)
	if err != nil {
		return nil, err
	}
	postLag, err := parseSeconds("BSKY_POST_LAG", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseSeconds("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	aeroLimit, err := parseFloat("AEROAPI_LIMIT", 0)
	if err != nil {
		return nil, err
	}

	pgPort, err := parseInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, err
	}
	chPort, err := parseInt("CLICKHOUSE_PORT", 9000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Home:             geo.Point{Lat: lat, Lon: lon},
		RecordRadiusKm:   recordRadius,
		AirspaceRadiusKm: airspaceRadius,

		LiveDataURL:      envOrDefault("LIVE_DATA_URL", "http://localhost:8080/data/aircraft.json"),
		SleepTime:        sleepTime,
		DebounceInterval: debounce,
		PostLag:          postLag,
		ShutdownTimeout:  shutdownTimeout,

		AeroAPIEnabled: envBool("AEROAPI_ENABLED"),
		AeroAPIKey:     os.Getenv("AEROAPI_KEY"),
		AeroAPILimit:   aeroLimit,

		PostEnabled: envBool("BSKY_POST_ENABLED"),
		PostAccount: os.Getenv("BSKY_ACCOUNT"),
		PostAppPass: os.Getenv("BSKY_APP_PASS"),

		PostgresEnabled:  envBool("POSTGRES_ENABLED"),
		PostgresServer:   envOrDefault("POSTGRES_SERVER", "localhost"),
		PostgresPort:     pgPort,
		PostgresDatabase: envOrDefault("POSTGRES_DATABASE", "aero_alerts"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		SQLitePath:       envOrDefault("SQLITE_PATH", "aero_alerts.db"),

		HistoryEnabled:  envBool("ADSB_HISTORY_ENABLED"),
		SaveFolder:      envOrDefault("ADSB_SAVE_FOLDER", "."),
		BackupEnabled:   envBool("BACKUP_ENABLED"),
		BackupBucket:    os.Getenv("BACKUP_BUCKET"),
		BackupPrefix:    envOrDefault("BACKUP_PREFIX", "aero-alerts"),
		CredentialsFile: os.Getenv("BACKUP_CREDENTIALS_FILE"),

		ArchiveEnabled:     envBool("TRACK_ARCHIVE_ENABLED"),
		ClickHouseHost:     envOrDefault("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     chPort,
		ClickHouseDatabase: envOrDefault("CLICKHOUSE_DATABASE", "aero_alerts"),
		ClickHouseUser:     envOrDefault("CLICKHOUSE_USER", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),

		FeedNATSURL:     os.Getenv("FEED_NATS_URL"),
		FeedNATSSubject: envOrDefault("FEED_NATS_SUBJECT", "adsb.snapshot"),

		StatusAddr: envOrDefault("STATUS_ADDR", ":8080"),
		LogLevel:   envOrDefault("LOG_LEVEL", "info"),
		LogFormat:  envOrDefault("LOG_FORMAT", "json"),
	}

	if cfg.AirspaceRadiusKm > cfg.RecordRadiusKm {
		return nil, fmt.Errorf("AIRSPACE_RADIUS_KM (%.1f) must not exceed RECORD_RADIUS_KM (%.1f)",
			cfg.AirspaceRadiusKm, cfg.RecordRadiusKm)
	}
	if cfg.AeroAPIEnabled && cfg.AeroAPIKey == "" {
		return nil, errors.New("AEROAPI_ENABLED is true but AEROAPI_KEY is not set")
	}
	if cfg.PostEnabled && (cfg.PostAccount == "" || cfg.PostAppPass == "") {
		return nil, errors.New("BSKY_POST_ENABLED is true but BSKY_ACCOUNT or BSKY_APP_PASS is not set")
	}
	if cfg.PostgresEnabled && cfg.PostgresUser == "" {
		return nil, errors.New("POSTGRES_ENABLED is true but POSTGRES_USER is not set")
	}
	if cfg.BackupEnabled && cfg.BackupBucket == "" {
		return nil, errors.New("BACKUP_ENABLED is true but BACKUP_BUCKET is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch os.Getenv(key) {
	case "true", "True", "1", "yes":
		return true
	}
	return false
}

func parseRequiredFloat(key string) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// parseSeconds reads an integer number of seconds from the environment.
func parseSeconds(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: want a non-negative number of seconds", key)
	}
	return time.Duration(n) * time.Second, nil
}
