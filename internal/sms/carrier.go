package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarg/klaxon/internal/config"
)

// Carrier delivers one text message to a phone number.
type Carrier interface {
	Send(ctx context.Context, phone, message string) error
	Name() string
}

// NewCarrier selects the delivery backend named in the configuration.
func NewCarrier(cfg config.SMSConfig, timeout time.Duration) (Carrier, error) {
	switch strings.ToLower(cfg.Carrier) {
	case "twilio":
		return NewTwilioCarrier(cfg.TwilioSID, cfg.TwilioAuth, cfg.TwilioFrom, timeout), nil
	case "on_premise":
		return NewGatewayCarrier(cfg.GatewayURL, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported SMS carrier %q (valid: twilio, on_premise)", cfg.Carrier)
	}
}

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioCarrier sends through the Twilio Messages API.
type TwilioCarrier struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	client     *http.Client
}

func NewTwilioCarrier(accountSID, authToken, from string, timeout time.Duration) *TwilioCarrier {
	return &TwilioCarrier{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		apiBase:    twilioAPIBase,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *TwilioCarrier) Name() string { return "twilio" }

func (c *TwilioCarrier) Send(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.from)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.apiBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("twilio response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("twilio API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// GatewayCarrier posts to an on-premise SMS gateway that queues messages for
// delivery over local GSM hardware.
type GatewayCarrier struct {
	url    string
	client *http.Client
}

func NewGatewayCarrier(gatewayURL string, timeout time.Duration) *GatewayCarrier {
	return &GatewayCarrier{
		url:    gatewayURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *GatewayCarrier) Name() string { return "on_premise" }

type gatewayRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (c *GatewayCarrier) Send(ctx context.Context, phone, message string) error {
	payload, err := json.Marshal(gatewayRequest{Phone: phone, Message: message})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("sms gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
