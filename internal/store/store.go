// Package store provides persistent storage for flight sightings,
// registration metadata and the airport cache, with interchangeable SQLite
// and PostgreSQL backends sharing one logical schema.
package store

import (
	"context"
	"fmt"
	"io"
)

// Announcement states carried in flights.bsky_post. NULL means the aircraft
// never entered the home zone; such rows are never selected for posting.
const (
	PostPending = 0
	PostDone    = 1
)

// FlightRecord is one persisted sighting of an aircraft. A hex may
// accumulate many rows over time (one per non-debounced encounter); the
// highest id is the current row for debounce purposes.
type FlightRecord struct {
	ID        int64
	Timestamp int64
	ICAOHex   string
	Flight    *string
	Altitude  *int
	Speed     *float64
	Lat       *float64
	Lon       *float64
	Distance  *float64
	Heading   *int
	Bearing   *int
	Squawk    *string
	Emergency *string

	AirlineName    *string
	AirlineCountry *string
	OriginICAO     *string
	DestICAO       *string
	RouteSource    *string

	// BskyPost: nil = never in home zone, 0 = pending, 1 = posted.
	BskyPost *int
}

// RegistrationRecord is identity metadata for a hex, created once and never
// overwritten (first-write-wins; the unique index on icao_hex is the
// authority under concurrent writers).
type RegistrationRecord struct {
	ID           int64
	Timestamp    int64
	ICAOHex      string
	Registration *string
	Model        *string
	Manufacturer *string
	OwnerName    *string
	OwnerCountry *string
	Source       string
}

// AirportRecord is a cached airport lookup keyed by ICAO code
// (first-write-wins, unique on code_icao).
type AirportRecord struct {
	ID          int64
	CodeICAO    string
	CodeIATA    *string
	Name        *string
	Type        *string
	City        *string
	State       *string
	Lat         *float64
	Lon         *float64
	CountryCode *string
	Timestamp   int64
}

// TrackRecord is one position append for the optional history table.
type TrackRecord struct {
	Timestamp   int64
	Hex         string
	Type        *string
	Flight      *string
	Altitude    *int
	GroundSpeed *float64
	Track       *int
	Lat         *float64
	Lon         *float64
	FlightID    *int64
}

// Telemetry is the live-state refresh applied when a sighting turns
// reportable.
type Telemetry struct {
	Timestamp int64
	Lat       *float64
	Lon       *float64
	Speed     *float64
	Altitude  *int
	Heading   *int
	Bearing   *int
}

// PendingPost is a pending sighting joined with its registration and airport
// names, ready for announcement formatting.
type PendingPost struct {
	FlightID     int64
	Flight       *string
	Registration *string
	Model        *string
	Manufacturer *string
	OwnerName    *string
	Altitude     *int
	Speed        *float64
	Heading      *int
	Bearing      *int
	AirlineName  *string
	OriginName   *string
	DestName     *string
}

// Store is the persistence contract shared by both backends. Lookups that
// find nothing return (nil, nil); callers treat StoreErrors as "data absent
// this cycle" and carry on.
type Store interface {
	CreateSchema(ctx context.Context) error
	Close() error

	// InsertFlight persists a new sighting and returns its id.
	InsertFlight(ctx context.Context, f *FlightRecord) (int64, error)
	// LatestFlightByHex returns the most recent sighting for a hex by id.
	LatestFlightByHex(ctx context.Context, hex string) (*FlightRecord, error)
	// RecentFlights returns the newest sightings, newest first.
	RecentFlights(ctx context.Context, limit int) ([]FlightRecord, error)
	// MarkReportable flags the current unflagged sighting for a hex as
	// pending announcement and refreshes its telemetry in the same
	// statement. Returns false when no row qualified (already flagged,
	// outside the lag window, or never recorded).
	MarkReportable(ctx context.Context, hex string, oldest int64, tel Telemetry) (bool, error)
	// PendingPosts selects pending-and-unposted sightings within the lag
	// window, oldest id first.
	PendingPosts(ctx context.Context, oldest int64) ([]PendingPost, error)
	// MarkPosted records a successful announcement for a single sighting.
	MarkPosted(ctx context.Context, flightID int64) error

	Registration(ctx context.Context, hex string) (*RegistrationRecord, error)
	// InsertRegistration is insert-ignore on icao_hex: a conflicting write
	// is a normal outcome, not an error.
	InsertRegistration(ctx context.Context, r *RegistrationRecord) error
	Airport(ctx context.Context, icao string) (*AirportRecord, error)
	// InsertAirport is insert-ignore on code_icao.
	InsertAirport(ctx context.Context, a *AirportRecord) error

	// InsertTrack appends to the history table (postgres history mode).
	InsertTrack(ctx context.Context, tr *TrackRecord) error
	// ExportCSV streams a whole table as CSV, header row first. Used by the
	// backup uploader.
	ExportCSV(ctx context.Context, table string, w io.Writer) error
}

// exportTables lists the tables ExportCSV may dump.
var exportTables = map[string]bool{
	"flights":       true,
	"registrations": true,
	"airports":      true,
}

// Config selects and parameterises a backend.
type Config struct {
	Postgres        bool
	SQLitePath      string
	PostgresHost    string
	PostgresPort    int
	PostgresDB      string
	PostgresUser    string
	PostgresPass    string
}

// Open opens the configured backend and creates the schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	if cfg.Postgres {
		s, err = OpenPostgres(ctx, cfg)
	} else {
		s, err = OpenSQLite(cfg.SQLitePath)
	}
	if err != nil {
		return nil, err
	}
	if err := s.CreateSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}
