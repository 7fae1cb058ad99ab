package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HexDBClient queries hexdb.io for airframe identity. hexdb answers 200
// with a partial body for unknown hexes, so presence of the Registration
// field is the real found/miss signal.
type HexDBClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewHexDBClient creates a hexdb client.
func NewHexDBClient(timeout time.Duration, logger *slog.Logger) *HexDBClient {
	return &HexDBClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://hexdb.io/api/v1",
		logger:     logger,
	}
}

type hexdbAircraft struct {
	Registration     *string `json:"Registration"`
	Type             *string `json:"Type"`
	Manufacturer     *string `json:"Manufacturer"`
	RegisteredOwners *string `json:"RegisteredOwners"`
}

// AircraftByHex looks up airframe identity for an ICAO hex. hexdb never
// reports the owner country.
func (c *HexDBClient) AircraftByHex(ctx context.Context, hex string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/aircraft/"+hex, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hexdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hexdb API error: status %d", resp.StatusCode)
	}

	var payload hexdbAircraft
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if payload.Registration == nil || *payload.Registration == "" {
		c.logger.Debug("hexdb has no data", "hex", hex)
		return nil, ErrNotFound
	}

	return &Identity{
		Registration: payload.Registration,
		Model:        payload.Type,
		Manufacturer: payload.Manufacturer,
		OwnerName:    payload.RegisteredOwners,
	}, nil
}
