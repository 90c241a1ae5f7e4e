package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/database"
	"github.com/snarg/klaxon/internal/metrics"
)

// caller places calls against the dialer.
type caller interface {
	PlaceCall(ctx context.Context, phone, message string, backup bool) error
}

// pendingStore is the slice of the database the dispatcher needs.
type pendingStore interface {
	PendingScheduledCalls(ctx context.Context) ([]database.ScheduledCall, error)
	MarkScheduledDispatched(ctx context.Context, id uuid.UUID) error
}

// DelayedDispatcher fires pending scheduled calls once their instant passes.
// The scheduled_calls table is the queue: a row stays pending until the
// handoff to the dialer succeeds, so restarts pick rows back up and past-due
// rows fire immediately instead of never.
type DelayedDispatcher struct {
	store    pendingStore
	dialer   caller
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewDelayedDispatcher(store pendingStore, dialer caller, interval time.Duration, log zerolog.Logger) *DelayedDispatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &DelayedDispatcher{
		store:    store,
		dialer:   dialer,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run sweeps until ctx ends. The first sweep runs immediately.
func (d *DelayedDispatcher) Run(ctx context.Context) error {
	d.log.Info().Dur("interval", d.interval).Msg("delayed dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.sweep(ctx); err != nil {
			d.log.Error().Err(err).Msg("scheduled call sweep failed")
		}
		select {
		case <-ctx.Done():
			d.log.Info().Msg("delayed dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// sweep dispatches every pending row whose instant has passed. Rows are
// ordered by scheduled_at, so the walk stops at the first future one. A
// failed handoff leaves the row pending for the next sweep.
func (d *DelayedDispatcher) sweep(ctx context.Context) error {
	pending, err := d.store.PendingScheduledCalls(ctx)
	if err != nil {
		return err
	}

	now := d.now()
	for _, sc := range pending {
		if sc.ScheduledAt.After(now) {
			break
		}
		if err := d.dialer.PlaceCall(ctx, sc.Phone, sc.Message, false); err != nil {
			d.log.Error().Err(err).
				Str("phone", sc.Phone).
				Time("scheduled_at", sc.ScheduledAt).
				Msg("scheduled handoff failed, row stays pending")
			continue
		}
		if err := d.store.MarkScheduledDispatched(ctx, sc.ID); err != nil {
			d.log.Error().Err(err).Stringer("id", sc.ID).Msg("mark dispatched failed")
			continue
		}
		metrics.ScheduledDispatchedTotal.Inc()
		d.log.Info().
			Str("phone", sc.Phone).
			Time("scheduled_at", sc.ScheduledAt).
			Msg("scheduled call dispatched")
	}
	return nil
}
