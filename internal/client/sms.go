package client

import (
	"context"
	"time"
)

// SMS talks to the SMS gateway service.
type SMS struct {
	base
}

func NewSMS(baseURL, token string, timeout time.Duration) *SMS {
	return &SMS{base: newBase(baseURL, token, timeout)}
}

type sendSMSRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Send submits one text message for delivery through the configured carrier.
func (c *SMS) Send(ctx context.Context, phone, message string) error {
	return c.do(ctx, "POST", "/send_sms", sendSMSRequest{Phone: phone, Message: message}, nil)
}
