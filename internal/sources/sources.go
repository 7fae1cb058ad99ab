// Package sources holds the HTTP clients for the external lookup services
// used to enrich sightings: adsbdb and hexdb for airframe identity, AeroAPI
// for flight routes and airports, and FlightAware redirect parsing as the
// route fallback.
package sources

import "errors"

// ErrNotFound means the service answered but has no data for the query.
// Callers distinguish this from transport errors when walking a cascade.
var ErrNotFound = errors.New("not found")

// hexdb and FlightAware both reject requests without a browser User-Agent.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0"

// Identity is airframe metadata returned by an identity lookup.
type Identity struct {
	Registration *string
	Model        *string
	Manufacturer *string
	OwnerName    *string
	OwnerCountry *string
}

// Route is airline and endpoint information for a callsign.
type Route struct {
	AirlineName    *string
	AirlineCountry *string
	OriginICAO     *string
	DestICAO       *string
}

// ParsedRoute is what FlightAware redirect parsing can recover: the callsign
// is always present, the endpoints only when the URL carries them.
type ParsedRoute struct {
	Callsign   string
	OriginICAO *string
	DestICAO   *string
}

// Airport is one airport detail lookup. CountryCode is the validity marker:
// responses without it are treated as misses.
type Airport struct {
	CodeICAO    string
	CodeIATA    *string
	Name        *string
	Type        *string
	City        *string
	State       *string
	Lat         *float64
	Lon         *float64
	CountryCode *string
}
