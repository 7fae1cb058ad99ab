// Package announce publishes sightings flagged by the engine to Bluesky,
// marking each one posted only after the service accepts it.
package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// BlueskyClient is a minimal XRPC client for app-password posting: one
// session per batch, one createRecord per announcement.
type BlueskyClient struct {
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	logger     *slog.Logger

	accessJwt string
	did       string
}

// NewBlueskyClient creates a client against the public bsky.social PDS.
func NewBlueskyClient(timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *BlueskyClient {
	return &BlueskyClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://bsky.social",
		clock:      clock,
		logger:     logger,
	}
}

// Login opens a session with an account handle and app password. The
// session token is held for subsequent Post calls.
func (c *BlueskyClient) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var session struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := c.call(ctx, "com.atproto.server.createSession", "", body, &session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = session.AccessJwt
	c.did = session.DID
	return nil
}

// Post publishes one text post to the logged-in account's feed.
func (c *BlueskyClient) Post(ctx context.Context, text string) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not logged in")
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.post",
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": c.clock.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := c.call(ctx, "com.atproto.repo.createRecord", c.accessJwt, body, nil); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (c *BlueskyClient) call(ctx context.Context, method, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s: status %d: %s %s", method, resp.StatusCode, apiErr.Error, apiErr.Message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
