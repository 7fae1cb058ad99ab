package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// FlightAwareClient recovers a route by following the public FlightAware
// mode-S redirect and reading the flight page URL it lands on. It is the
// fallback when no paid or free API can resolve the route.
type FlightAwareClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewFlightAwareClient creates a redirect-parsing client.
func NewFlightAwareClient(timeout time.Duration, logger *slog.Logger) *FlightAwareClient {
	return &FlightAwareClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://www.flightaware.com",
		logger:     logger,
	}
}

// RouteByHex requests /live/modes/<hex>/redirect and parses the URL it
// resolves to. A flight page path looks like
//
//	/live/flight/<callsign>/history/<date>/<time>/<origin>/<dest>
//
// where the endpoint segments are present only when FlightAware knows them.
// No redirect means the hex is not currently tracked.
func (c *FlightAwareClient) RouteByHex(ctx context.Context, hex string) (*ParsedRoute, error) {
	startPath := "/live/modes/" + hex + "/redirect"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+startPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flightaware request: %w", err)
	}
	defer resp.Body.Close()

	finalPath := resp.Request.URL.Path
	if finalPath == startPath || strings.HasPrefix(finalPath, "/live/modes/") {
		c.logger.Debug("no flight page for hex", "hex", hex)
		return nil, ErrNotFound
	}

	// Leading slash makes segment 0 empty: segment 3 is the callsign,
	// 7 and 8 the endpoints.
	segments := strings.Split(finalPath, "/")
	if len(segments) < 4 || segments[3] == "" {
		return nil, ErrNotFound
	}

	route := &ParsedRoute{Callsign: segments[3]}
	if len(segments) > 7 && segments[7] != "" {
		origin := segments[7]
		route.OriginICAO = &origin
	}
	if len(segments) > 8 && segments[8] != "" {
		dest := segments[8]
		route.DestICAO = &dest
	}

	c.logger.Debug("parsed flight page",
		"hex", hex, "callsign", route.Callsign, "path", finalPath)
	return route, nil
}
