package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"aero_alerts/internal/store"
)

// ArchiveConfig holds ClickHouse connection settings for the track archive.
type ArchiveConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// TrackArchive is the long-term position archive. Tracks are append-only
// and heavily read by time range, which is what a MergeTree partitioned by
// month is for. Appends buffer in memory and reach ClickHouse as one batch
// insert per cycle on Flush.
type TrackArchive struct {
	conn driver.Conn

	mu  sync.Mutex
	buf []store.TrackRecord
}

// OpenArchive opens a connection to ClickHouse and verifies it.
func OpenArchive(ctx context.Context, cfg ArchiveConfig) (*TrackArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &TrackArchive{conn: conn}, nil
}

// Close closes the archive connection.
func (a *TrackArchive) Close() error {
	return a.conn.Close()
}

// CreateSchema creates the archive table.
func (a *TrackArchive) CreateSchema(ctx context.Context) error {
	err := a.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tracks (
			timestamp    DateTime,
			hex          LowCardinality(String),
			flight       LowCardinality(String),
			altitude     Nullable(Int32),
			groundspeed  Nullable(Float64),
			track        Nullable(Int32),
			lat          Nullable(Float64),
			lon          Nullable(Float64),
			flight_id    Nullable(Int64)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (hex, timestamp)
		SETTINGS index_granularity = 8192`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Append buffers one track row until the next Flush.
func (a *TrackArchive) Append(_ context.Context, tr *store.TrackRecord) error {
	a.mu.Lock()
	a.buf = append(a.buf, *tr)
	a.mu.Unlock()
	return nil
}

// Flush ships every buffered row in one batch insert. Rows are dropped on
// failure rather than retried; the archive is a secondary copy of the
// primary tracks data.
func (a *TrackArchive) Flush(ctx context.Context) error {
	a.mu.Lock()
	rows := a.buf
	a.buf = nil
	a.mu.Unlock()

	return a.AppendBatch(ctx, rows)
}

// AppendBatch stores many track rows in one round trip.
func (a *TrackArchive) AppendBatch(ctx context.Context, records []store.TrackRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO tracks (timestamp, hex, flight, altitude, groundspeed, track, lat, lon, flight_id)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i := range records {
		tr := &records[i]
		flight := ""
		if tr.Flight != nil {
			flight = *tr.Flight
		}
		if err := batch.Append(time.Unix(tr.Timestamp, 0), tr.Hex, flight,
			tr.Altitude, tr.GroundSpeed, tr.Track, tr.Lat, tr.Lon, tr.FlightID); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByHex returns archived row counts per hex, busiest first.
func (a *TrackArchive) CountByHex(ctx context.Context, limit int) (map[string]uint64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.conn.Query(ctx,
		"SELECT hex, count() FROM tracks GROUP BY hex ORDER BY count() DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var hex string
		var count uint64
		if err := rows.Scan(&hex, &count); err != nil {
			return nil, fmt.Errorf("scan count by hex: %w", err)
		}
		counts[hex] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count by hex: %w", err)
	}
	return counts, nil
}
