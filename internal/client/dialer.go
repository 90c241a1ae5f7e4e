package client

import (
	"context"
	"time"
)

// Dialer talks to the dialer service.
type Dialer struct {
	base
}

func NewDialer(baseURL, token string, timeout time.Duration) *Dialer {
	return &Dialer{base: newBase(baseURL, token, timeout)}
}

type placeCallRequest struct {
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	BackupCallee bool   `json:"backup_callee,omitempty"`
}

// PlaceCall originates a call immediately, bypassing the queue.
func (c *Dialer) PlaceCall(ctx context.Context, phone, message string, backup bool) error {
	return c.do(ctx, "POST", "/place_call", placeCallRequest{Phone: phone, Message: message, BackupCallee: backup}, nil)
}

type playRequest struct {
	AsteriskChan string `json:"asterisk_chan"`
	MsgChkSum    string `json:"msg_chk_sum"`
}

// Play starts playback of a cached message on a live channel.
func (c *Dialer) Play(ctx context.Context, asteriskChan, msgChkSum string) error {
	return c.do(ctx, "POST", "/play", playRequest{AsteriskChan: asteriskChan, MsgChkSum: msgChkSum}, nil)
}

type callToQueueRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// CallToQueue enqueues a call for paced dialing.
func (c *Dialer) CallToQueue(ctx context.Context, phone, message string) error {
	return c.do(ctx, "POST", "/call_to_queue", callToQueueRequest{Phone: phone, Message: message}, nil)
}
