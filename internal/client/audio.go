package client

import (
	"context"
	"net/url"
	"time"
)

// Audio talks to the audio cache service.
type Audio struct {
	base
}

func NewAudio(baseURL, token string, timeout time.Duration) *Audio {
	return &Audio{base: newBase(baseURL, token, timeout)}
}

type makeAudioRequest struct {
	Message   string `json:"message"`
	MsgChkSum string `json:"msg_chk_sum"`
}

// MakeAudio asks the cache to synthesize message under the given checksum.
// The call returns once the job is accepted; readiness is polled separately.
func (c *Audio) MakeAudio(ctx context.Context, message, msgChkSum string) error {
	return c.do(ctx, "POST", "/make_audio", makeAudioRequest{Message: message, MsgChkSum: msgChkSum}, nil)
}

type audioReadyResponse struct {
	Exists bool `json:"exists"`
}

// IsAudioReady reports whether the artifact for msgChkSum is playable.
func (c *Audio) IsAudioReady(ctx context.Context, msgChkSum string) (bool, error) {
	q := url.Values{"msg_chk_sum": {msgChkSum}}
	var out audioReadyResponse
	if err := c.do(ctx, "GET", "/is_audio_ready?"+q.Encode(), nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// WaitUntilReady polls IsAudioReady every interval until the artifact exists,
// the attempts run out, or ctx is done. It reports whether the artifact
// became ready.
func (c *Audio) WaitUntilReady(ctx context.Context, msgChkSum string, interval time.Duration, attempts int) (bool, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		ready, err := c.IsAudioReady(ctx, msgChkSum)
		if err != nil {
			return false, err
		}
		if ready {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
	return false, nil
}
