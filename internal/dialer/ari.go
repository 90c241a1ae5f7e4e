// Package dialer places outbound calls through the Asterisk REST Interface
// and paces the dial queue.
package dialer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/snarg/klaxon/internal/config"
)

// ARIClient drives the PBX control surface: channel origination, playback
// and dialplan continuation. Every request carries HTTP Basic auth.
type ARIClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

func NewARIClient(cfg config.AsteriskConfig, timeout time.Duration) *ARIClient {
	return &ARIClient{
		baseURL:  fmt.Sprintf("%s://%s:%d", cfg.Scheme, cfg.Host, cfg.WebPort),
		username: cfg.User,
		password: cfg.Pass,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *ARIClient) post(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "POST", target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	return c.client.Do(req)
}

// Originate asks the PBX to dial endpoint and drop the answered channel into
// the configured dialplan extension. On success the returned status is 200
// and the new channel id is set; on a PBX rejection the status is whatever
// the PBX answered and err explains it; status 0 means the PBX was never
// reached.
func (c *ARIClient) Originate(ctx context.Context, endpoint, extension, dialCtx, callerID string) (string, int, error) {
	q := url.Values{}
	q.Set("endpoint", endpoint)
	q.Set("extension", extension)
	q.Set("context", dialCtx)
	q.Set("callerId", callerID)

	resp, err := c.post(ctx, "/ari/channels", q)
	if err != nil {
		return "", 0, fmt.Errorf("originate %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("originate %s: read response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("originate %s: PBX status %d: %s", endpoint, resp.StatusCode, body)
	}

	var ch struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ch); err != nil {
		return "", resp.StatusCode, fmt.Errorf("originate %s: decode channel: %w", endpoint, err)
	}
	if ch.ID == "" {
		return "", resp.StatusCode, fmt.Errorf("originate %s: PBX returned no channel id", endpoint)
	}
	return ch.ID, resp.StatusCode, nil
}

// Play starts playback of mediaURI on a live channel. The PBX acknowledges
// with 201; any other status is reported alongside the error.
func (c *ARIClient) Play(ctx context.Context, asteriskChan, mediaURI string) (int, error) {
	q := url.Values{}
	q.Set("media", mediaURI)

	resp, err := c.post(ctx, "/ari/channels/"+url.PathEscape(asteriskChan)+"/play", q)
	if err != nil {
		return 0, fmt.Errorf("play on %s: %w", asteriskChan, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("play on %s: PBX status %d: %s", asteriskChan, resp.StatusCode, body)
	}
	return resp.StatusCode, nil
}

// Continue hands the channel back to the dialplan. The channel must never
// stay parked in the control application, so callers run this even after a
// failed playback.
func (c *ARIClient) Continue(ctx context.Context, asteriskChan string) error {
	resp, err := c.post(ctx, "/ari/channels/"+url.PathEscape(asteriskChan)+"/continue", nil)
	if err != nil {
		return fmt.Errorf("continue on %s: %w", asteriskChan, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("continue on %s: PBX status %d: %s", asteriskChan, resp.StatusCode, body)
	}
	return nil
}
