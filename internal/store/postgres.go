package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the shared-server backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool using the config's postgres fields.
func OpenPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.PostgresUser, cfg.PostgresPass, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateSchema creates tables and indices if absent.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS flights (
		id SERIAL PRIMARY KEY,
		timestamp BIGINT,
		icao_hex TEXT,
		flight TEXT,
		altitude INTEGER,
		speed DOUBLE PRECISION,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		distance DOUBLE PRECISION,
		heading INTEGER,
		bearing INTEGER,
		squawk TEXT,
		emergency TEXT,
		airline_name TEXT,
		airline_country TEXT,
		origin_icao TEXT,
		dest_icao TEXT,
		flightroute_source TEXT,
		bsky_post INTEGER
	);

	CREATE TABLE IF NOT EXISTS registrations (
		id SERIAL PRIMARY KEY,
		timestamp BIGINT,
		icao_hex TEXT UNIQUE,
		registration TEXT,
		model TEXT,
		manufacturer TEXT,
		owner_name TEXT,
		owner_country TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS airports (
		id SERIAL PRIMARY KEY,
		code_icao TEXT UNIQUE,
		code_iata TEXT,
		name TEXT,
		type TEXT,
		city TEXT,
		state TEXT,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		country_code TEXT,
		timestamp BIGINT
	);

	CREATE TABLE IF NOT EXISTS tracks (
		id SERIAL PRIMARY KEY,
		timestamp BIGINT,
		hex TEXT,
		type TEXT,
		flight TEXT,
		altitude INTEGER,
		groundspeed DOUBLE PRECISION,
		track INTEGER,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		flight_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_flights_hex ON flights(icao_hex);
	CREATE INDEX IF NOT EXISTS idx_flights_post ON flights(bsky_post);
	CREATE INDEX IF NOT EXISTS idx_flights_origin ON flights(origin_icao);
	CREATE INDEX IF NOT EXISTS idx_flights_dest ON flights(dest_icao);
	CREATE INDEX IF NOT EXISTS idx_tracks_hex ON tracks(hex);
	CREATE INDEX IF NOT EXISTS idx_tracks_timestamp ON tracks(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tracks_fid ON tracks(flight_id);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertFlight persists a new sighting and returns its id.
func (s *PostgresStore) InsertFlight(ctx context.Context, f *FlightRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO flights (timestamp, icao_hex, flight, altitude, speed, lat, lon,
			distance, heading, bearing, squawk, emergency, airline_name, airline_country,
			origin_icao, dest_icao, flightroute_source, bsky_post)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`, f.Timestamp, f.ICAOHex, f.Flight, f.Altitude, f.Speed, f.Lat, f.Lon,
		f.Distance, f.Heading, f.Bearing, f.Squawk, f.Emergency, f.AirlineName,
		f.AirlineCountry, f.OriginICAO, f.DestICAO, f.RouteSource, f.BskyPost).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert flight: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) scanFlightRow(row pgx.Row) (*FlightRecord, error) {
	var f FlightRecord
	err := row.Scan(&f.ID, &f.Timestamp, &f.ICAOHex, &f.Flight, &f.Altitude,
		&f.Speed, &f.Lat, &f.Lon, &f.Distance, &f.Heading, &f.Bearing,
		&f.Squawk, &f.Emergency, &f.AirlineName, &f.AirlineCountry,
		&f.OriginICAO, &f.DestICAO, &f.RouteSource, &f.BskyPost)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// LatestFlightByHex returns the most recent sighting for a hex, or nil.
func (s *PostgresStore) LatestFlightByHex(ctx context.Context, hex string) (*FlightRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+flightColumns+` FROM flights WHERE icao_hex = $1 ORDER BY id DESC LIMIT 1`, hex)
	f, err := s.scanFlightRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest flight: %w", err)
	}
	return f, nil
}

// RecentFlights returns the newest sightings, newest first.
func (s *PostgresStore) RecentFlights(ctx context.Context, limit int) ([]FlightRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+flightColumns+` FROM flights ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent flights: %w", err)
	}
	defer rows.Close()

	var out []FlightRecord
	for rows.Next() {
		f, err := s.scanFlightRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// MarkReportable flags the current unflagged sighting within the lag window
// as pending and refreshes its telemetry in a single conditional update.
func (s *PostgresStore) MarkReportable(ctx context.Context, hex string, oldest int64, tel Telemetry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flights
		SET timestamp = $1, lat = $2, lon = $3, speed = $4, altitude = $5,
			heading = $6, bearing = $7, bsky_post = $8
		WHERE id = (
			SELECT id FROM flights
			WHERE icao_hex = $9 AND bsky_post IS NULL AND timestamp >= $10
			ORDER BY id DESC LIMIT 1
		)
	`, tel.Timestamp, tel.Lat, tel.Lon, tel.Speed, tel.Altitude, tel.Heading,
		tel.Bearing, PostPending, hex, oldest)
	if err != nil {
		return false, fmt.Errorf("mark reportable: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PendingPosts selects pending sightings within the lag window, oldest first.
func (s *PostgresStore) PendingPosts(ctx context.Context, oldest int64) ([]PendingPost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.flight, r.registration, r.model, r.manufacturer, r.owner_name,
			f.altitude, f.speed, f.heading, f.bearing, f.airline_name,
			oa.name, da.name
		FROM flights f
		LEFT JOIN registrations r ON f.icao_hex = r.icao_hex
		LEFT JOIN airports oa ON f.origin_icao = oa.code_icao
		LEFT JOIN airports da ON f.dest_icao = da.code_icao
		WHERE f.bsky_post = 0 AND f.timestamp >= $1
		ORDER BY f.id ASC
	`, oldest)
	if err != nil {
		return nil, fmt.Errorf("pending posts: %w", err)
	}
	defer rows.Close()

	var out []PendingPost
	for rows.Next() {
		var p PendingPost
		err := rows.Scan(&p.FlightID, &p.Flight, &p.Registration, &p.Model,
			&p.Manufacturer, &p.OwnerName, &p.Altitude, &p.Speed, &p.Heading,
			&p.Bearing, &p.AirlineName, &p.OriginName, &p.DestName)
		if err != nil {
			return nil, fmt.Errorf("scan pending post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPosted records a successful announcement for one sighting.
func (s *PostgresStore) MarkPosted(ctx context.Context, flightID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE flights SET bsky_post = $1 WHERE id = $2`, PostDone, flightID)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	return nil
}

// Registration returns the cached identity record for a hex, or nil.
func (s *PostgresStore) Registration(ctx context.Context, hex string) (*RegistrationRecord, error) {
	var r RegistrationRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, timestamp, icao_hex, registration, model, manufacturer,
			owner_name, owner_country, source
		FROM registrations WHERE icao_hex = $1
	`, hex).Scan(&r.ID, &r.Timestamp, &r.ICAOHex, &r.Registration, &r.Model,
		&r.Manufacturer, &r.OwnerName, &r.OwnerCountry, &r.Source)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	return &r, nil
}

// InsertRegistration writes a new identity record; conflicts on hex are a
// normal outcome under concurrent resolution and are ignored.
func (s *PostgresStore) InsertRegistration(ctx context.Context, r *RegistrationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registrations
			(timestamp, icao_hex, registration, model, manufacturer, owner_name, owner_country, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, r.Timestamp, r.ICAOHex, r.Registration, r.Model, r.Manufacturer,
		r.OwnerName, r.OwnerCountry, r.Source)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// Airport returns the cached airport for an ICAO code, or nil.
func (s *PostgresStore) Airport(ctx context.Context, icao string) (*AirportRecord, error) {
	var a AirportRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, code_icao, code_iata, name, type, city, state, lat, lon, country_code, timestamp
		FROM airports WHERE code_icao = $1
	`, icao).Scan(&a.ID, &a.CodeICAO, &a.CodeIATA, &a.Name, &a.Type, &a.City,
		&a.State, &a.Lat, &a.Lon, &a.CountryCode, &a.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("airport: %w", err)
	}
	return &a, nil
}

// InsertAirport caches an airport lookup; conflicts on code are ignored.
func (s *PostgresStore) InsertAirport(ctx context.Context, a *AirportRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO airports
			(code_icao, code_iata, name, type, city, state, lat, lon, country_code, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`, a.CodeICAO, a.CodeIATA, a.Name, a.Type, a.City, a.State, a.Lat, a.Lon,
		a.CountryCode, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert airport: %w", err)
	}
	return nil
}

// InsertTrack appends one position row to the history table.
func (s *PostgresStore) InsertTrack(ctx context.Context, tr *TrackRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracks (timestamp, hex, type, flight, altitude, groundspeed, track, lat, lon, flight_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tr.Timestamp, tr.Hex, tr.Type, tr.Flight, tr.Altitude, tr.GroundSpeed,
		tr.Track, tr.Lat, tr.Lon, tr.FlightID)
	if err != nil {
		return fmt.Errorf("insert track: %w", err)
	}
	return nil
}

// ExportCSV streams one table as CSV with a header row.
func (s *PostgresStore) ExportCSV(ctx context.Context, table string, w io.Writer) error {
	if !exportTables[table] {
		return fmt.Errorf("export: unknown table %q", table)
	}

	rows, err := s.pool.Query(ctx, "SELECT * FROM "+table)
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}

	record := make([]string, len(cols))
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("export scan: %w", err)
		}
		for i, v := range vals {
			record[i] = csvValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return rows.Err()
}
