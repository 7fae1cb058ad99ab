// Package engine turns raw feed snapshots into classified, enriched, and
// announcement-ready sightings.
package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"aero_alerts/internal/adsb"
	"aero_alerts/internal/geo"
	"aero_alerts/internal/observability"
	"aero_alerts/internal/store"
)

// TrackSink receives one position append per in-range observation. The CSV
// history file, the postgres tracks table, and the ClickHouse archive all
// implement it.
type TrackSink interface {
	Append(ctx context.Context, tr *store.TrackRecord) error
}

// TrackFlusher is implemented by sinks that buffer appended rows and ship
// them once per cycle.
type TrackFlusher interface {
	Flush(ctx context.Context) error
}

// Config is the classification geometry and timing for one engine.
type Config struct {
	Home             geo.Point
	RecordRadiusKm   float64
	AirspaceRadiusKm float64
	DebounceInterval time.Duration
	PostLag          time.Duration
}

// Engine processes snapshots: distance classification, per-aircraft
// debounce, enrichment of new sightings, and flagging aircraft inside the
// home zone for announcement.
type Engine struct {
	cfg      Config
	store    store.Store
	resolver *Resolver
	sinks    []TrackSink
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New builds an engine. sinks may be empty when history is disabled.
func New(cfg Config, st store.Store, resolver *Resolver, sinks []TrackSink,
	logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		sinks:    sinks,
		logger:   logger,
		metrics:  metrics,
	}
}

// ProcessSnapshot runs one classification cycle over a decoded snapshot.
// Individual aircraft failures are logged and skipped; the cycle always
// completes.
func (e *Engine) ProcessSnapshot(ctx context.Context, snap *adsb.Snapshot) {
	now := int64(math.Round(snap.Now))

	for i := range snap.Aircraft {
		obs := &snap.Aircraft[i]
		e.metrics.AircraftObserved.Inc()

		lat, lon, ok := obs.Position()
		if !ok {
			continue
		}
		pos := geo.Point{Lat: lat, Lon: lon}
		dist := geo.Distance(e.cfg.Home, pos)
		e.logger.Debug("aircraft observed", "hex", obs.Hex, "distance_km", math.Round(dist*10)/10)

		if dist <= e.cfg.RecordRadiusKm {
			e.recordSighting(ctx, obs, pos, dist, now)
		}
		if dist <= e.cfg.AirspaceRadiusKm {
			e.flagReportable(ctx, obs, pos, now)
		}
	}

	for _, sink := range e.sinks {
		f, ok := sink.(TrackFlusher)
		if !ok {
			continue
		}
		if err := f.Flush(ctx); err != nil {
			e.metrics.StoreErrors.Inc()
			e.logger.Warn("track flush failed", "error", err)
		}
	}
}

// recordSighting inserts a new flight row unless the hex was already seen
// inside the debounce window, then appends to the track sinks either way.
func (e *Engine) recordSighting(ctx context.Context, obs *adsb.Observation, pos geo.Point, dist float64, now int64) {
	isNew, err := e.isNewSighting(ctx, obs.Hex, now)
	if err != nil {
		e.metrics.StoreErrors.Inc()
		e.logger.Warn("sighting lookup failed", "hex", obs.Hex, "error", err)
		return
	}

	if isNew {
		e.logger.Info("new sighting", "hex", obs.Hex)
		if err := e.insertSighting(ctx, obs, pos, dist, now); err != nil {
			e.metrics.StoreErrors.Inc()
			e.logger.Warn("recording sighting failed", "hex", obs.Hex, "error", err)
			return
		}
		e.metrics.SightingsRecorded.Inc()
	} else {
		e.metrics.DebounceSkips.Inc()
	}

	e.appendTrack(ctx, obs, pos, now)
}

// isNewSighting applies the debounce rule: a hex is new when it has no
// record at all, or when its newest record is older than the debounce
// interval. Re-observation inside the window does not extend it.
func (e *Engine) isNewSighting(ctx context.Context, hex string, now int64) (bool, error) {
	latest, err := e.store.LatestFlightByHex(ctx, hex)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return now > latest.Timestamp+int64(e.cfg.DebounceInterval.Seconds()), nil
}

func (e *Engine) insertSighting(ctx context.Context, obs *adsb.Observation, pos geo.Point, dist float64, now int64) error {
	rec := &store.FlightRecord{
		Timestamp: now,
		ICAOHex:   obs.Hex,
		Altitude:  obs.AltBaro,
		Speed:     obs.SpeedKph(),
		Lat:       &pos.Lat,
		Lon:       &pos.Lon,
		Heading:   obs.TrackDeg(),
		Squawk:    obs.Squawk,
		Emergency: obs.Emergency,
	}
	d := math.Round(dist*10) / 10
	rec.Distance = &d
	b := int(math.Round(geo.Bearing(e.cfg.Home, pos)))
	rec.Bearing = &b
	if cs := obs.Callsign(); cs != "" {
		rec.Flight = &cs
	}

	reg, err := e.resolver.ResolveIdentity(ctx, obs.Hex, now)
	if err != nil {
		e.metrics.StoreErrors.Inc()
		e.logger.Warn("identity resolution failed", "hex", obs.Hex, "error", err)
	}

	route := e.resolver.ResolveRoute(ctx, obs.Hex, obs.Callsign(), reg, now)
	rec.AirlineName = route.AirlineName
	rec.AirlineCountry = route.AirlineCountry
	rec.OriginICAO = route.OriginICAO
	rec.DestICAO = route.DestICAO
	rec.RouteSource = route.Source
	if rec.Flight == nil && route.Callsign != nil {
		rec.Flight = route.Callsign
	}

	_, err = e.store.InsertFlight(ctx, rec)
	return err
}

// appendTrack writes one position row to every sink, carrying the latest
// flight id for the hex so tracks can be joined back to sightings.
func (e *Engine) appendTrack(ctx context.Context, obs *adsb.Observation, pos geo.Point, now int64) {
	if len(e.sinks) == 0 {
		return
	}

	tr := &store.TrackRecord{
		Timestamp:   now,
		Hex:         obs.Hex,
		Type:        obs.Type,
		Altitude:    obs.AltBaro,
		GroundSpeed: obs.SpeedKph(),
		Track:       obs.TrackDeg(),
		Lat:         &pos.Lat,
		Lon:         &pos.Lon,
	}
	if cs := obs.Callsign(); cs != "" {
		tr.Flight = &cs
	}

	if latest, err := e.store.LatestFlightByHex(ctx, obs.Hex); err == nil && latest != nil {
		tr.FlightID = &latest.ID
	}

	for _, sink := range e.sinks {
		if err := sink.Append(ctx, tr); err != nil {
			e.logger.Warn("track append failed", "hex", obs.Hex, "error", err)
		}
	}
}

// flagReportable marks the aircraft's current sighting as pending
// announcement when it enters the inner zone, refreshing the stored
// telemetry to the moment of entry.
func (e *Engine) flagReportable(ctx context.Context, obs *adsb.Observation, pos geo.Point, now int64) {
	b := int(math.Round(geo.Bearing(e.cfg.Home, pos)))
	tel := store.Telemetry{
		Timestamp: now,
		Lat:       &pos.Lat,
		Lon:       &pos.Lon,
		Speed:     obs.SpeedKph(),
		Altitude:  obs.AltBaro,
		Heading:   obs.TrackDeg(),
		Bearing:   &b,
	}

	oldest := now - int64(e.cfg.PostLag.Seconds())
	flagged, err := e.store.MarkReportable(ctx, obs.Hex, oldest, tel)
	if err != nil {
		e.metrics.StoreErrors.Inc()
		e.logger.Warn("flagging sighting failed", "hex", obs.Hex, "error", err)
		return
	}
	if flagged {
		e.logger.Info("aircraft in home zone, flagged for announcement", "hex", obs.Hex)
	}
}
