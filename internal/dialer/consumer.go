package dialer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/queue"
)

// caller is the dial path the consumer drives. Satisfied by *Handler.
type caller interface {
	Dial(ctx context.Context, phone, message string, backup bool) (int, error)
}

// Consumer drains the dial queue. At most one queued call starts per forget
// window, so a full ring cycle finishes before the next queued callee's
// phone rings.
type Consumer struct {
	queue   queue.Queue
	dialer  caller
	limiter *rate.Limiter
	idle    time.Duration
	log     zerolog.Logger
}

func NewConsumer(q queue.Queue, d caller, cfg *config.Config, log zerolog.Logger) *Consumer {
	return &Consumer{
		queue:   q,
		dialer:  d,
		limiter: rate.NewLimiter(rate.Every(cfg.SecondsToForgetDuration()), 1),
		idle:    cfg.Dialer.IdleSleep,
		log:     log.With().Str("component", "dial_queue").Logger(),
	}
}

// Run blocks draining the queue until ctx is canceled or the queue closes.
// Dial failures are logged and the job is dropped; the recaller owns retry
// policy once a call is registered, and an unplaced call will come back
// through the alert pipeline.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		job, err := c.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("dequeue failed")
			if !sleepCtx(ctx, c.idle) {
				return ctx.Err()
			}
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, err := c.dialer.Dial(ctx, job.Phone, job.Message, false)
		if err != nil {
			c.log.Error().Err(err).Str("phone", job.Phone).Int("pbx_status", status).Msg("queued call failed")
			continue
		}
		c.log.Info().Str("phone", job.Phone).Int("pbx_status", status).Msg("queued call placed")
	}
}

// sleepCtx waits d unless ctx ends first, reporting whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
