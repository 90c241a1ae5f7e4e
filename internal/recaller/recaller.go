// Package recaller sweeps open call cycles and re-dials the ones nobody
// acknowledged: first as plain retries while attempts remain, then as
// escalations to the backup callee once the primary's window is spent.
package recaller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/database"
	"github.com/snarg/klaxon/internal/metrics"
)

// store provides the sweep queries. Satisfied by *database.DB.
type store interface {
	RetryableCalls(ctx context.Context, window, grace time.Duration) ([]database.Call, error)
	BackupEscalations(ctx context.Context, maxBackupCalls int) ([]database.Call, error)
	IncrementBackupCalls(ctx context.Context, id uuid.UUID) error
}

// placer originates calls. Satisfied by *client.Dialer.
type placer interface {
	PlaceCall(ctx context.Context, phone, message string, backup bool) error
}

// roster resolves the ordered on-call chain. Satisfied by *client.AddressBook.
type roster interface {
	OnCall(ctx context.Context) (client.OnCallRoster, error)
}

// Recaller runs the retry/escalation sweep. The pace between rows is the
// window split across the configured attempts plus one, so a full cycle's
// retries spread evenly over seconds_to_forget.
type Recaller struct {
	store  store
	dialer placer
	roster roster

	window    time.Duration // cycle lifetime (seconds_to_forget)
	pace      time.Duration // sleep between rows and minimum age of the last attempt
	idle      time.Duration // sleep between sweeps
	backoff   time.Duration // sleep after a failed sweep
	backupMax int

	log zerolog.Logger
}

func New(st store, d placer, r roster, cfg *config.Config, log zerolog.Logger) *Recaller {
	return &Recaller{
		store:     st,
		dialer:    d,
		roster:    r,
		window:    cfg.SecondsToForgetDuration(),
		pace:      cfg.SleepAndRetry(),
		idle:      cfg.Recaller.SleepBeforeQuerying,
		backoff:   5 * time.Second,
		backupMax: cfg.Recaller.BackupMaxTimes,
		log:       log.With().Str("component", "recaller").Logger(),
	}
}

// Run sweeps until ctx is canceled. A failed sweep (query or roster error)
// is retried after the backoff instead of killing the process: the database
// coming back is the common case, and open cycles keep their state.
func (r *Recaller) Run(ctx context.Context) error {
	r.log.Info().
		Dur("pace", r.pace).
		Dur("idle", r.idle).
		Int("backup_max", r.backupMax).
		Msg("recaller started")
	for {
		if err := r.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Dur("backoff", r.backoff).Msg("sweep failed")
			if !sleepCtx(ctx, r.backoff) {
				return ctx.Err()
			}
			continue
		}
		if !sleepCtx(ctx, r.idle) {
			return ctx.Err()
		}
	}
}

// Sweep runs one retry pass and one backup pass. Query errors abort the
// sweep; per-row dial failures are logged and the pass moves on, keeping
// the row eligible for the next sweep.
func (r *Recaller) Sweep(ctx context.Context) error {
	if err := r.retryPass(ctx); err != nil {
		return err
	}
	return r.backupPass(ctx)
}

func (r *Recaller) retryPass(ctx context.Context) error {
	calls, err := r.store.RetryableCalls(ctx, r.window, r.pace)
	if err != nil {
		return err
	}
	for i := range calls {
		c := &calls[i]
		r.log.Info().
			Str("phone", c.Phone).
			Int("dialed_times", c.DialedTimes).
			Int("times_to_dial", c.TimesToDial).
			Int("seconds_to_forget", c.SecondsToForget).
			Msg("retrying unanswered call")

		if err := r.dialer.PlaceCall(ctx, c.Phone, c.Message, false); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Str("phone", c.Phone).Msg("retry dial failed")
		} else {
			metrics.RetriesScheduledTotal.Inc()
		}
		if !sleepCtx(ctx, r.pace) {
			return ctx.Err()
		}
	}
	return nil
}

func (r *Recaller) backupPass(ctx context.Context) error {
	calls, err := r.store.BackupEscalations(ctx, r.backupMax)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return nil
	}

	oncall, err := r.roster.OnCall(ctx)
	if err != nil {
		return err
	}
	if len(oncall.Contacts) == 0 {
		r.log.Warn().Int("pending", len(calls)).Msg("no on-call contacts for backup escalation")
		return nil
	}

	for i := range calls {
		c := &calls[i]
		// The primary was contacts[0]; escalation n rings contacts[n],
		// wrapping around when the chain is shorter than the attempts.
		backup := oncall.Contacts[(c.BackupCalls+1)%len(oncall.Contacts)]
		r.log.Info().
			Str("original_phone", c.Phone).
			Str("backup_phone", backup.PhoneNumber).
			Int("attempt", c.BackupCalls+1).
			Msg("cycle unacknowledged, escalating to backup callee")

		if err := r.dialer.PlaceCall(ctx, backup.PhoneNumber, c.Message, true); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Str("backup_phone", backup.PhoneNumber).Msg("backup dial failed")
		} else {
			if err := r.store.IncrementBackupCalls(ctx, c.ID); err != nil {
				return err
			}
			metrics.BackupEscalationsTotal.Inc()
		}
		if !sleepCtx(ctx, r.pace) {
			return ctx.Err()
		}
	}
	return nil
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
