package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
)

// spendBuffer keeps actual spend slightly under the configured ceiling so a
// single in-flight call cannot tip the bill over it.
const spendBuffer = 0.10

// AeroAPIClient queries FlightAware's paid AeroAPI for flight routes,
// airport details, and month-to-date account spend. Every paid call is
// supposed to go through Available first.
type AeroAPIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limit      float64
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewAeroAPIClient creates an AeroAPI client. limit is the monthly spend
// ceiling in dollars; zero disables all paid calls.
func NewAeroAPIClient(apiKey string, limit float64, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *AeroAPIClient {
	return &AeroAPIClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://aeroapi.flightaware.com/aeroapi",
		apiKey:     apiKey,
		limit:      limit,
		clock:      clock,
		logger:     logger,
	}
}

// FlightSegment is one entry from a flights-by-registration search.
type FlightSegment struct {
	IdentICAO  string
	OriginICAO *string
	DestICAO   *string
}

type aeroAPIFlights struct {
	Flights []struct {
		IdentICAO string `json:"ident_icao"`
		Origin    struct {
			CodeICAO *string `json:"code_icao"`
		} `json:"origin"`
		Destination *struct {
			CodeICAO *string `json:"code_icao"`
		} `json:"destination"`
	} `json:"flights"`
}

// FlightsByRegistration returns recent flight segments for a tail number.
func (c *AeroAPIClient) FlightsByRegistration(ctx context.Context, registration string) ([]FlightSegment, error) {
	body, err := c.get(ctx, c.baseURL+"/flights/"+registration)
	if err != nil {
		return nil, err
	}

	var payload aeroAPIFlights
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode flights response: %w", err)
	}
	if len(payload.Flights) == 0 {
		return nil, ErrNotFound
	}

	segments := make([]FlightSegment, 0, len(payload.Flights))
	for _, f := range payload.Flights {
		seg := FlightSegment{IdentICAO: f.IdentICAO, OriginICAO: f.Origin.CodeICAO}
		if f.Destination != nil {
			seg.DestICAO = f.Destination.CodeICAO
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// AirportByICAO looks up one airport. A response without country_code is a
// miss.
func (c *AeroAPIClient) AirportByICAO(ctx context.Context, icao string) (*Airport, error) {
	body, err := c.get(ctx, c.baseURL+"/airports/"+icao)
	if err != nil {
		return nil, err
	}

	var payload struct {
		CodeICAO    *string  `json:"code_icao"`
		CodeIATA    *string  `json:"code_iata"`
		Name        *string  `json:"name"`
		Type        *string  `json:"type"`
		City        *string  `json:"city"`
		State       *string  `json:"state"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		CountryCode *string  `json:"country_code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode airport response: %w", err)
	}
	if payload.CountryCode == nil {
		return nil, ErrNotFound
	}

	a := &Airport{
		CodeICAO:    icao,
		CodeIATA:    payload.CodeIATA,
		Name:        payload.Name,
		Type:        payload.Type,
		City:        payload.City,
		State:       payload.State,
		Lat:         payload.Latitude,
		Lon:         payload.Longitude,
		CountryCode: payload.CountryCode,
	}
	if payload.CodeICAO != nil {
		a.CodeICAO = *payload.CodeICAO
	}
	return a, nil
}

// MonthlySpend returns the account's paid usage from the first of the month
// through today. Billing cycles reset at the start of the month, and the
// usage endpoint rejects a zero-length range, so on the first of the month
// the end date is pushed to the second.
func (c *AeroAPIClient) MonthlySpend(ctx context.Context) (float64, error) {
	now := c.clock.Now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end := now
	if now.Format("2006-01-02") == first.Format("2006-01-02") {
		end = first.AddDate(0, 0, 1)
	}

	params := url.Values{
		"start": {first.Format("2006-01-02")},
		"end":   {end.Format("2006-01-02")},
	}
	body, err := c.get(ctx, c.baseURL+"/account/usage?"+params.Encode())
	if err != nil {
		return 0, err
	}

	var payload struct {
		TotalCost *float64 `json:"total_cost"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode usage response: %w", err)
	}
	if payload.TotalCost == nil {
		return 0, nil
	}
	return *payload.TotalCost, nil
}

// Available reports whether another paid call fits under the monthly
// ceiling. It is re-evaluated before every paid call; a zero ceiling always
// denies. Usage lookup failures count as zero spend, matching the billing
// endpoint's own behavior at cycle start.
func (c *AeroAPIClient) Available(ctx context.Context) bool {
	if c.limit <= 0 {
		return false
	}

	total, err := c.MonthlySpend(ctx)
	if err != nil {
		c.logger.Debug("usage lookup failed, assuming zero spend", "error", err)
		total = 0
	}
	c.logger.Info("month-to-date AeroAPI spend", "total", total, "limit", c.limit)

	return total <= c.limit-spendBuffer
}

func (c *AeroAPIClient) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aeroapi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aeroapi error: status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return buf, nil
}
