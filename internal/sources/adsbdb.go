package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ADSBDBClient queries api.adsbdb.com for airframe identity and callsign
// routes. Both endpoints wrap their payload in a "response" envelope that
// degrades to a plain string when the subject is unknown.
type ADSBDBClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewADSBDBClient creates an adsbdb client.
func NewADSBDBClient(timeout time.Duration, logger *slog.Logger) *ADSBDBClient {
	return &ADSBDBClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.adsbdb.com/v0",
		logger:     logger,
	}
}

type adsbdbEnvelope struct {
	Response json.RawMessage `json:"response"`
}

type adsbdbAircraft struct {
	Aircraft struct {
		Registration               *string `json:"registration"`
		Type                       *string `json:"type"`
		Manufacturer               *string `json:"manufacturer"`
		RegisteredOwner            *string `json:"registered_owner"`
		RegisteredOwnerCountryName *string `json:"registered_owner_country_name"`
	} `json:"aircraft"`
}

type adsbdbFlightroute struct {
	Flightroute struct {
		Airline *struct {
			Name    *string `json:"name"`
			Country *string `json:"country"`
		} `json:"airline"`
		Origin struct {
			ICAOCode *string `json:"icao_code"`
		} `json:"origin"`
		Destination struct {
			ICAOCode *string `json:"icao_code"`
		} `json:"destination"`
	} `json:"flightroute"`
}

// AircraftByHex looks up airframe identity for an ICAO hex.
func (c *ADSBDBClient) AircraftByHex(ctx context.Context, hex string) (*Identity, error) {
	raw, err := c.fetch(ctx, c.baseURL+"/aircraft/"+hex)
	if err != nil {
		return nil, err
	}

	var payload adsbdbAircraft
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode aircraft payload: %w", err)
	}

	a := payload.Aircraft
	return &Identity{
		Registration: a.Registration,
		Model:        a.Type,
		Manufacturer: a.Manufacturer,
		OwnerName:    a.RegisteredOwner,
		OwnerCountry: a.RegisteredOwnerCountryName,
	}, nil
}

// CallsignRoute looks up the airline and route for a callsign. Responses
// with a null airline are treated as misses, matching the envelope's habit
// of returning placeholder routes for unknown operators.
func (c *ADSBDBClient) CallsignRoute(ctx context.Context, callsign string) (*Route, error) {
	raw, err := c.fetch(ctx, c.baseURL+"/callsign/"+callsign)
	if err != nil {
		return nil, err
	}

	var payload adsbdbFlightroute
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode flightroute payload: %w", err)
	}

	fr := payload.Flightroute
	if fr.Airline == nil {
		return nil, ErrNotFound
	}
	return &Route{
		AirlineName:    fr.Airline.Name,
		AirlineCountry: fr.Airline.Country,
		OriginICAO:     fr.Origin.ICAOCode,
		DestICAO:       fr.Destination.ICAOCode,
	}, nil
}

// fetch retrieves the envelope and unwraps it, converting the "unknown"
// string form into ErrNotFound.
func (c *ADSBDBClient) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adsbdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adsbdb API error: status %d", resp.StatusCode)
	}

	var env adsbdbEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var unknown string
	if err := json.Unmarshal(env.Response, &unknown); err == nil {
		c.logger.Debug("adsbdb has no data", "url", url, "response", unknown)
		return nil, ErrNotFound
	}

	return env.Response, nil
}
