package client

import (
	"context"
	"net/url"
	"time"
)

// Register talks to the call register service.
type Register struct {
	base
}

func NewRegister(baseURL, token string, timeout time.Duration) *Register {
	return &Register{base: newBase(baseURL, token, timeout)}
}

// RegisterCallRequest describes one call attempt to record.
type RegisterCallRequest struct {
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	AsteriskChan string `json:"asterisk_chan"`
	OnCall       bool   `json:"oncall,omitempty"`
	BackupCallee bool   `json:"backup_callee,omitempty"`
}

// RegisterCall records a dial attempt against the cycle for (phone, message).
func (c *Register) RegisterCall(ctx context.Context, req RegisterCallRequest) error {
	return c.do(ctx, "POST", "/register_call", req, nil)
}

// VoiceMessage is the text and checksum the PBX should play on a channel.
type VoiceMessage struct {
	Message   string `json:"message"`
	MsgChkSum string `json:"msg_chk_sum"`
}

// Message resolves the voice message bound to an Asterisk channel.
func (c *Register) Message(ctx context.Context, asteriskChan string) (VoiceMessage, error) {
	var out VoiceMessage
	err := c.do(ctx, "POST", "/msg", map[string]string{"asterisk_chan": asteriskChan}, &out)
	return out, err
}

// Acknowledge marks the cycle behind the channel as acknowledged by the callee.
func (c *Register) Acknowledge(ctx context.Context, asteriskChan string) error {
	q := url.Values{"asterisk_chan": {asteriskChan}}
	return c.do(ctx, "GET", "/ack?"+q.Encode(), nil, nil)
}

// Heard records that the callee listened to the whole message.
func (c *Register) Heard(ctx context.Context, asteriskChan string) error {
	q := url.Values{"asterisk_chan": {asteriskChan}}
	return c.do(ctx, "GET", "/heard?"+q.Encode(), nil, nil)
}
