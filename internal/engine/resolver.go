package engine

import (
	"context"
	"errors"
	"log/slog"

	"aero_alerts/internal/observability"
	"aero_alerts/internal/sources"
	"aero_alerts/internal/store"
)

// IdentityLookup is one identity source in the cascade.
type IdentityLookup interface {
	AircraftByHex(ctx context.Context, hex string) (*sources.Identity, error)
}

// RouteAPI is the paid lookup surface: budget gate, flight search, and
// airport details.
type RouteAPI interface {
	Available(ctx context.Context) bool
	FlightsByRegistration(ctx context.Context, registration string) ([]sources.FlightSegment, error)
	AirportByICAO(ctx context.Context, icao string) (*sources.Airport, error)
}

// RouteParser is the free route fallback.
type RouteParser interface {
	RouteByHex(ctx context.Context, hex string) (*sources.ParsedRoute, error)
}

// IdentityStep names one source in the identity cascade; the name becomes
// the registration record's provenance tag.
type IdentityStep struct {
	Name   string
	Lookup IdentityLookup
}

// Route is a resolved flight route ready to be written onto a sighting.
// Callsign is non-nil only when redirect parsing recovered one the feed did
// not carry.
type Route struct {
	Callsign       *string
	AirlineName    *string
	AirlineCountry *string
	OriginICAO     *string
	DestICAO       *string
	Source         *string
}

// Resolver runs the identity and route cascades for a new sighting. Each
// external source is tried in order; a miss or transport failure moves on
// to the next, and the first answer wins permanently.
type Resolver struct {
	store          store.Store
	identitySteps  []IdentityStep
	routeAPI       RouteAPI
	routeAPIActive bool
	parser         RouteParser
	logger         *slog.Logger
	metrics        *observability.Metrics
}

// NewResolver builds a resolver. routeAPI may be nil when paid lookups are
// disabled; parser may be nil to disable redirect parsing (tests).
func NewResolver(st store.Store, steps []IdentityStep, routeAPI RouteAPI, parser RouteParser,
	logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:          st,
		identitySteps:  steps,
		routeAPI:       routeAPI,
		routeAPIActive: routeAPI != nil,
		parser:         parser,
		logger:         logger,
		metrics:        metrics,
	}
}

// ResolveIdentity returns airframe metadata for a hex: the local table
// first, then each remote source in order. Remote answers are persisted
// insert-ignore so a concurrent resolver racing on the same hex cannot
// overwrite the first write. Returns nil when every source misses.
func (r *Resolver) ResolveIdentity(ctx context.Context, hex string, now int64) (*store.RegistrationRecord, error) {
	existing, err := r.store.Registration(ctx, hex)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.metrics.EnrichmentLookups.WithLabelValues("internal", "found").Inc()
		r.logger.Info("airframe metadata found locally", "hex", hex)
		existing.Source = "internal"
		return existing, nil
	}
	r.metrics.EnrichmentLookups.WithLabelValues("internal", "miss").Inc()

	for _, step := range r.identitySteps {
		id, err := step.Lookup.AircraftByHex(ctx, hex)
		if errors.Is(err, sources.ErrNotFound) {
			r.metrics.EnrichmentLookups.WithLabelValues(step.Name, "miss").Inc()
			r.logger.Info("no airframe metadata", "hex", hex, "source", step.Name)
			continue
		}
		if err != nil {
			r.metrics.EnrichmentLookups.WithLabelValues(step.Name, "error").Inc()
			r.logger.Warn("identity lookup failed", "hex", hex, "source", step.Name, "error", err)
			continue
		}

		r.metrics.EnrichmentLookups.WithLabelValues(step.Name, "found").Inc()
		r.logger.Info("airframe metadata gathered", "hex", hex, "source", step.Name)

		rec := &store.RegistrationRecord{
			Timestamp:    now,
			ICAOHex:      hex,
			Registration: id.Registration,
			Model:        id.Model,
			Manufacturer: id.Manufacturer,
			OwnerName:    id.OwnerName,
			OwnerCountry: id.OwnerCountry,
			Source:       step.Name,
		}
		if err := r.store.InsertRegistration(ctx, rec); err != nil {
			r.metrics.StoreErrors.Inc()
			r.logger.Warn("persisting registration failed", "hex", hex, "error", err)
		}
		return rec, nil
	}

	// No paid endpoint can resolve identity from a bare hex yet.
	return nil, nil
}

// ResolveRoute finds the route for a sighting. The paid flight search runs
// first when a callsign and registration are both known and the budget gate
// permits; redirect parsing fills whatever is still missing. Airport details
// for any endpoint found are cached as a side effect.
func (r *Resolver) ResolveRoute(ctx context.Context, hex, callsign string, reg *store.RegistrationRecord, now int64) Route {
	var route Route

	if callsign != "" && r.routeAPIActive && reg != nil && reg.Registration != nil && r.budgetOpen(ctx) {
		segments, err := r.routeAPI.FlightsByRegistration(ctx, *reg.Registration)
		switch {
		case errors.Is(err, sources.ErrNotFound):
			r.metrics.EnrichmentLookups.WithLabelValues("aeroAPI", "miss").Inc()
			r.logger.Info("no route metadata from paid search", "hex", hex)
		case err != nil:
			r.metrics.EnrichmentLookups.WithLabelValues("aeroAPI", "error").Inc()
			r.logger.Warn("paid route search failed", "hex", hex, "error", err)
		default:
			for _, seg := range segments {
				if seg.IdentICAO == callsign {
					route.OriginICAO = seg.OriginICAO
					route.DestICAO = seg.DestICAO
					break
				}
			}
			src := "aeroAPI"
			route.Source = &src
			r.metrics.EnrichmentLookups.WithLabelValues("aeroAPI", "found").Inc()
			r.logger.Info("route gathered from paid search", "hex", hex, "callsign", callsign)
		}
	}

	if callsign == "" || route.OriginICAO == nil {
		parsed, err := r.parseRedirect(ctx, hex)
		if err == nil {
			route.Callsign = &parsed.Callsign
			route.OriginICAO = parsed.OriginICAO
			route.DestICAO = parsed.DestICAO
			if route.Source == nil {
				src := "FA_parse"
				route.Source = &src
			} else {
				src := *route.Source + ",FA_parse"
				route.Source = &src
			}
		}
	}

	r.ensureAirport(ctx, route.OriginICAO, now)
	r.ensureAirport(ctx, route.DestICAO, now)

	return route
}

// budgetOpen re-checks the paid budget gate and mirrors the outcome to the
// budget gauge.
func (r *Resolver) budgetOpen(ctx context.Context) bool {
	open := r.routeAPI.Available(ctx)
	if open {
		r.metrics.EnrichmentBudget.Set(1)
	} else {
		r.metrics.EnrichmentBudget.Set(0)
	}
	return open
}

func (r *Resolver) parseRedirect(ctx context.Context, hex string) (*sources.ParsedRoute, error) {
	if r.parser == nil {
		return nil, sources.ErrNotFound
	}
	parsed, err := r.parser.RouteByHex(ctx, hex)
	if errors.Is(err, sources.ErrNotFound) {
		r.metrics.EnrichmentLookups.WithLabelValues("FA_parse", "miss").Inc()
		return nil, err
	}
	if err != nil {
		r.metrics.EnrichmentLookups.WithLabelValues("FA_parse", "error").Inc()
		r.logger.Warn("redirect parse failed", "hex", hex, "error", err)
		return nil, err
	}
	r.metrics.EnrichmentLookups.WithLabelValues("FA_parse", "found").Inc()
	return parsed, nil
}

// ensureAirport makes sure an endpoint's airport details are cached
// locally. A remote lookup happens at most once per airport and only when
// the budget gate permits; the insert is first-write-wins.
func (r *Resolver) ensureAirport(ctx context.Context, icao *string, now int64) {
	if icao == nil || *icao == "" {
		return
	}

	cached, err := r.store.Airport(ctx, *icao)
	if err != nil {
		r.metrics.StoreErrors.Inc()
		r.logger.Warn("airport cache read failed", "icao", *icao, "error", err)
		return
	}
	if cached != nil {
		r.metrics.AirportCacheLookup.WithLabelValues("hit").Inc()
		return
	}
	r.metrics.AirportCacheLookup.WithLabelValues("miss").Inc()

	if !r.routeAPIActive || !r.budgetOpen(ctx) {
		return
	}

	airport, err := r.routeAPI.AirportByICAO(ctx, *icao)
	if errors.Is(err, sources.ErrNotFound) {
		r.logger.Info("airport unknown upstream", "icao", *icao)
		return
	}
	if err != nil {
		r.logger.Warn("airport lookup failed", "icao", *icao, "error", err)
		return
	}

	rec := &store.AirportRecord{
		CodeICAO:    airport.CodeICAO,
		CodeIATA:    airport.CodeIATA,
		Name:        airport.Name,
		Type:        airport.Type,
		City:        airport.City,
		State:       airport.State,
		Lat:         airport.Lat,
		Lon:         airport.Lon,
		CountryCode: airport.CountryCode,
		Timestamp:   now,
	}
	if err := r.store.InsertAirport(ctx, rec); err != nil {
		r.metrics.StoreErrors.Inc()
		r.logger.Warn("airport cache write failed", "icao", *icao, "error", err)
		return
	}
	r.logger.Info("airport details cached", "icao", *icao)
}
