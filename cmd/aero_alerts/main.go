package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"aero_alerts/internal/adsb"
	"aero_alerts/internal/announce"
	"aero_alerts/internal/api"
	"aero_alerts/internal/backup"
	"aero_alerts/internal/config"
	"aero_alerts/internal/engine"
	"aero_alerts/internal/feed"
	"aero_alerts/internal/history"
	"aero_alerts/internal/observability"
	"aero_alerts/internal/sources"
	"aero_alerts/internal/store"
)

const httpTimeout = 30 * time.Second

// storeSink adapts the flights database's tracks table to the engine's
// track sink.
type storeSink struct {
	st store.Store
}

func (s storeSink) Append(ctx context.Context, tr *store.TrackRecord) error {
	return s.st.InsertTrack(ctx, tr)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	logger.Info("starting",
		"postgres", cfg.PostgresEnabled, "aeroapi", cfg.AeroAPIEnabled,
		"posting", cfg.PostEnabled, "history", cfg.HistoryEnabled,
		"archive", cfg.ArchiveEnabled, "backup", cfg.BackupEnabled)
	logger.Debug("configuration",
		"home_lat", cfg.Home.Lat, "home_lon", cfg.Home.Lon,
		"record_radius_km", cfg.RecordRadiusKm, "airspace_radius_km", cfg.AirspaceRadiusKm,
		"sleep", cfg.SleepTime, "debounce", cfg.DebounceInterval, "post_lag", cfg.PostLag,
		"live_data_url", cfg.LiveDataURL, "status_addr", cfg.StatusAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Postgres:     cfg.PostgresEnabled,
		SQLitePath:   cfg.SQLitePath,
		PostgresHost: cfg.PostgresServer,
		PostgresPort: cfg.PostgresPort,
		PostgresDB:   cfg.PostgresDatabase,
		PostgresUser: cfg.PostgresUser,
		PostgresPass: cfg.PostgresPassword,
	})
	if err != nil {
		logger.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Backup uploader, hooked to daily file rollover below.
	var uploader *backup.Uploader
	if cfg.BackupEnabled {
		sqlitePath := ""
		if !cfg.PostgresEnabled {
			sqlitePath = cfg.SQLitePath
		}
		uploader, err = backup.NewUploader(ctx, backup.Config{
			Bucket:          cfg.BackupBucket,
			Prefix:          cfg.BackupPrefix,
			CredentialsFile: cfg.CredentialsFile,
			SQLitePath:      sqlitePath,
			SaveFolder:      cfg.SaveFolder,
		}, st, clock, logger)
		if err != nil {
			logger.Error("creating backup uploader failed", "error", err)
			os.Exit(1)
		}
		defer uploader.Close()
	}

	// Identity cascade: local table first (inside the resolver), then the
	// free lookups in order of data quality.
	steps := []engine.IdentityStep{
		{Name: "adsbdb", Lookup: sources.NewADSBDBClient(httpTimeout, logger)},
		{Name: "hexdb", Lookup: sources.NewHexDBClient(httpTimeout, logger)},
	}

	var routeAPI engine.RouteAPI
	if cfg.AeroAPIEnabled {
		routeAPI = sources.NewAeroAPIClient(cfg.AeroAPIKey, cfg.AeroAPILimit, httpTimeout, clock, logger)
	}
	parser := sources.NewFlightAwareClient(httpTimeout, logger)

	resolver := engine.NewResolver(st, steps, routeAPI, parser, logger, metrics)

	var sinks []engine.TrackSink
	if cfg.HistoryEnabled {
		if cfg.PostgresEnabled {
			sinks = append(sinks, storeSink{st})
		} else {
			var onRollover func(context.Context)
			if uploader != nil {
				onRollover = uploader.Run
			}
			sinks = append(sinks, history.NewCSVWriter(cfg.SaveFolder, clock, logger, onRollover))
		}
	}

	var archive *history.TrackArchive
	if cfg.ArchiveEnabled {
		archive, err = history.OpenArchive(ctx, history.ArchiveConfig{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDatabase,
			User:     cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			logger.Error("opening track archive failed", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		if err := archive.CreateSchema(ctx); err != nil {
			logger.Error("creating archive schema failed", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, archive)
	}

	eng := engine.New(engine.Config{
		Home:             cfg.Home,
		RecordRadiusKm:   cfg.RecordRadiusKm,
		AirspaceRadiusKm: cfg.AirspaceRadiusKm,
		DebounceInterval: cfg.DebounceInterval,
		PostLag:          cfg.PostLag,
	}, st, resolver, sinks, logger, metrics)

	var publisher *announce.Publisher
	if cfg.PostEnabled {
		bsky := announce.NewBlueskyClient(httpTimeout, clock, logger)
		publisher = announce.NewPublisher(st, bsky, cfg.PostAccount, cfg.PostAppPass, cfg.PostLag, logger, metrics)
	}

	var counter api.TrackCounter
	if archive != nil {
		counter = archive
	}
	srv := api.NewServer(cfg.StatusAddr, st, counter, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", "error", err)
		}
	}()

	handle := func(snap *adsb.Snapshot) {
		timer := prometheus.NewTimer(metrics.PollDuration)
		eng.ProcessSnapshot(ctx, snap)
		if publisher != nil {
			publisher.PublishPending(ctx, int64(math.Round(snap.Now)))
		}
		timer.ObserveDuration()
	}

	metrics.PollRunning.Set(1)

	if cfg.FeedNATSURL != "" {
		sub, err := feed.NewSubscriber(cfg.FeedNATSURL, cfg.FeedNATSSubject, logger)
		if err != nil {
			logger.Error("connecting to feed failed", "error", err)
			os.Exit(1)
		}
		defer sub.Close()
		if err := sub.Subscribe(handle); err != nil {
			logger.Error("subscribing to feed failed", "error", err)
			os.Exit(1)
		}
		<-ctx.Done()
	} else {
		poller := feed.NewPoller(cfg.LiveDataURL, httpTimeout, logger)
		ticker := time.NewTicker(cfg.SleepTime)
		defer ticker.Stop()

	loop:
		for {
			snap, err := poller.Fetch(ctx)
			if err != nil {
				metrics.SnapshotErrors.Inc()
				logger.Warn("no valid feed data, check LIVE_DATA_URL", "error", err)
			} else {
				handle(snap)
			}

			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
			}
		}
	}

	metrics.PollRunning.Set(0)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
