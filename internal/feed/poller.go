// Package feed acquires aircraft snapshots, either by polling a receiver's
// aircraft.json endpoint or by subscribing to a NATS subject carrying the
// same payload.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aero_alerts/internal/adsb"
)

// Poller fetches the live aircraft snapshot over HTTP.
type Poller struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// NewPoller creates a poller against a tar1090/readsb data URL.
func NewPoller(url string, timeout time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		logger:     logger,
	}
}

// Fetch retrieves and decodes one snapshot.
func (p *Poller) Fetch(ctx context.Context) (*adsb.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := adsb.DecodeSnapshot(body)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("snapshot fetched", "aircraft", len(snap.Aircraft))
	return snap, nil
}
