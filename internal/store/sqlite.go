package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded backend, suitable for a single receiver host.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. Use ":memory:" for an
// ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	// The _pragma params are applied on every new pool connection, so the
	// busy timeout holds across the whole pool.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for backup snapshots.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateSchema creates tables and indices if absent.
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS flights (
		id INTEGER PRIMARY KEY,
		timestamp INTEGER,
		icao_hex TEXT,
		flight TEXT,
		altitude INTEGER,
		speed REAL,
		lat REAL,
		lon REAL,
		distance REAL,
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
		id INTEGER PRIMARY KEY,
		timestamp INTEGER,
		icao_hex TEXT UNIQUE,
		registration TEXT,
		model TEXT,
		manufacturer TEXT,
		owner_name TEXT,
		owner_country TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS airports (
		id INTEGER PRIMARY KEY,
		code_icao TEXT UNIQUE,
		code_iata TEXT,
		name TEXT,
		type TEXT,
		city TEXT,
		state TEXT,
		lat REAL,
		lon REAL,
		country_code TEXT,
		timestamp INTEGER
	);

	CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY,
		timestamp INTEGER,
		hex TEXT,
		type TEXT,
		flight TEXT,
		altitude INTEGER,
		groundspeed REAL,
		track INTEGER,
		lat REAL,
		lon REAL,
		flight_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_flights_hex ON flights(icao_hex);
	CREATE INDEX IF NOT EXISTS idx_flights_post ON flights(bsky_post);
	CREATE INDEX IF NOT EXISTS idx_tracks_hex ON tracks(hex);
	CREATE INDEX IF NOT EXISTS idx_tracks_timestamp ON tracks(timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertFlight persists a new sighting and returns its id.
func (s *SQLiteStore) InsertFlight(ctx context.Context, f *FlightRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flights (timestamp, icao_hex, flight, altitude, speed, lat, lon,
			distance, heading, bearing, squawk, emergency, airline_name, airline_country,
			origin_icao, dest_icao, flightroute_source, bsky_post)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.Timestamp, f.ICAOHex, f.Flight, f.Altitude, f.Speed, f.Lat, f.Lon,
		f.Distance, f.Heading, f.Bearing, f.Squawk, f.Emergency, f.AirlineName,
		f.AirlineCountry, f.OriginICAO, f.DestICAO, f.RouteSource, f.BskyPost)
	if err != nil {
		return 0, fmt.Errorf("insert flight: %w", err)
	}
	return res.LastInsertId()
}

const flightColumns = `id, timestamp, icao_hex, flight, altitude, speed, lat, lon,
	distance, heading, bearing, squawk, emergency, airline_name, airline_country,
	origin_icao, dest_icao, flightroute_source, bsky_post`

func scanFlight(row interface{ Scan(...any) error }) (*FlightRecord, error) {
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
func (s *SQLiteStore) LatestFlightByHex(ctx context.Context, hex string) (*FlightRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+flightColumns+` FROM flights WHERE icao_hex = ? ORDER BY id DESC LIMIT 1`, hex)
	f, err := scanFlight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest flight: %w", err)
	}
	return f, nil
}

// RecentFlights returns the newest sightings, newest first.
func (s *SQLiteStore) RecentFlights(ctx context.Context, limit int) ([]FlightRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flightColumns+` FROM flights ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent flights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FlightRecord
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// MarkReportable flags the current unflagged sighting within the lag window
// as pending and refreshes its telemetry. The subselect keeps this a single
// conditional statement, so the unset-to-pending transition fires at most
// once per row.
func (s *SQLiteStore) MarkReportable(ctx context.Context, hex string, oldest int64, tel Telemetry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights
		SET timestamp = ?, lat = ?, lon = ?, speed = ?, altitude = ?, heading = ?, bearing = ?, bsky_post = ?
		WHERE id = (
			SELECT id FROM flights
			WHERE icao_hex = ? AND bsky_post IS NULL AND timestamp >= ?
			ORDER BY id DESC LIMIT 1
		)
	`, tel.Timestamp, tel.Lat, tel.Lon, tel.Speed, tel.Altitude, tel.Heading, tel.Bearing,
		PostPending, hex, oldest)
	if err != nil {
		return false, fmt.Errorf("mark reportable: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const pendingPostQuery = `
	SELECT f.id, f.flight, r.registration, r.model, r.manufacturer, r.owner_name,
		f.altitude, f.speed, f.heading, f.bearing, f.airline_name,
		oa.name, da.name
	FROM flights f
	LEFT JOIN registrations r ON f.icao_hex = r.icao_hex
	LEFT JOIN airports oa ON f.origin_icao = oa.code_icao
	LEFT JOIN airports da ON f.dest_icao = da.code_icao
	WHERE f.bsky_post = 0 AND f.timestamp >= ?
	ORDER BY f.id ASC`

// PendingPosts selects pending sightings within the lag window, oldest first.
func (s *SQLiteStore) PendingPosts(ctx context.Context, oldest int64) ([]PendingPost, error) {
	rows, err := s.db.QueryContext(ctx, pendingPostQuery, oldest)
	if err != nil {
		return nil, fmt.Errorf("pending posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLiteStore) MarkPosted(ctx context.Context, flightID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE flights SET bsky_post = ? WHERE id = ?`, PostDone, flightID)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	return nil
}

// Registration returns the cached identity record for a hex, or nil.
func (s *SQLiteStore) Registration(ctx context.Context, hex string) (*RegistrationRecord, error) {
	var r RegistrationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, icao_hex, registration, model, manufacturer,
			owner_name, owner_country, source
		FROM registrations WHERE icao_hex = ?
	`, hex).Scan(&r.ID, &r.Timestamp, &r.ICAOHex, &r.Registration, &r.Model,
		&r.Manufacturer, &r.OwnerName, &r.OwnerCountry, &r.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	return &r, nil
}

// InsertRegistration writes a new identity record; a duplicate hex is
// silently ignored.
func (s *SQLiteStore) InsertRegistration(ctx context.Context, r *RegistrationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO registrations
			(timestamp, icao_hex, registration, model, manufacturer, owner_name, owner_country, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Timestamp, r.ICAOHex, r.Registration, r.Model, r.Manufacturer,
		r.OwnerName, r.OwnerCountry, r.Source)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// Airport returns the cached airport for an ICAO code, or nil.
func (s *SQLiteStore) Airport(ctx context.Context, icao string) (*AirportRecord, error) {
	var a AirportRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code_icao, code_iata, name, type, city, state, lat, lon, country_code, timestamp
		FROM airports WHERE code_icao = ?
	`, icao).Scan(&a.ID, &a.CodeICAO, &a.CodeIATA, &a.Name, &a.Type, &a.City,
		&a.State, &a.Lat, &a.Lon, &a.CountryCode, &a.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("airport: %w", err)
	}
	return &a, nil
}

// InsertAirport caches an airport lookup; a duplicate code is ignored.
func (s *SQLiteStore) InsertAirport(ctx context.Context, a *AirportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO airports
			(code_icao, code_iata, name, type, city, state, lat, lon, country_code, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.CodeICAO, a.CodeIATA, a.Name, a.Type, a.City, a.State, a.Lat, a.Lon,
		a.CountryCode, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert airport: %w", err)
	}
	return nil
}

// InsertTrack appends one position row to the history table.
func (s *SQLiteStore) InsertTrack(ctx context.Context, tr *TrackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (timestamp, hex, type, flight, altitude, groundspeed, track, lat, lon, flight_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.Timestamp, tr.Hex, tr.Type, tr.Flight, tr.Altitude, tr.GroundSpeed,
		tr.Track, tr.Lat, tr.Lon, tr.FlightID)
	if err != nil {
		return fmt.Errorf("insert track: %w", err)
	}
	return nil
}

// ExportCSV streams one table as CSV with a header row.
func (s *SQLiteStore) ExportCSV(ctx context.Context, table string, w io.Writer) error {
	if !exportTables[table] {
		return fmt.Errorf("export: unknown table %q", table)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
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

func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
