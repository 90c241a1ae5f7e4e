package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/queue"
)

// Action names the notification legs an endpoint requests.
type Action string

const (
	ActionCallOnly      Action = "call_only"
	ActionSMSOnly       Action = "sms_only"
	ActionSMSBeforeCall Action = "sms_before_call"
	ActionCallAndSMS    Action = "call_and_sms"
)

// valid reports whether the action is one of the four dispatch routes.
func (a Action) valid() bool {
	switch a {
	case ActionCallOnly, ActionSMSOnly, ActionSMSBeforeCall, ActionCallAndSMS:
		return true
	}
	return false
}

// notifyPace is the gap between queued notifications, so a burst of alerts
// does not hammer the dialer and the carrier at once.
const notifyPace = 400 * time.Millisecond

// placer originates calls. Satisfied by *client.Dialer.
type placer interface {
	PlaceCall(ctx context.Context, phone, message string, backup bool) error
}

// texter sends one SMS. Satisfied by *client.SMS.
type texter interface {
	Send(ctx context.Context, phone, message string) error
}

// roster resolves the on-call chain for the "oncall" receiver alias.
// Satisfied by *client.AddressBook; nil disables the alias.
type roster interface {
	OnCall(ctx context.Context) (client.OnCallRoster, error)
}

// Notifier drains the dispatch queue, resolving receiver aliases and driving
// the SMS and call legs in the order the action demands.
type Notifier struct {
	queue    queue.Queue
	dialer   placer
	sms      texter
	book     roster
	leadTime time.Duration
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func NewNotifier(q queue.Queue, dialer placer, sms texter, book roster, leadTime time.Duration, log zerolog.Logger) *Notifier {
	return &Notifier{
		queue:    q,
		dialer:   dialer,
		sms:      sms,
		book:     book,
		leadTime: leadTime,
		limiter:  rate.NewLimiter(rate.Every(notifyPace), 1),
		log:      log.With().Str("component", "dispatch_queue").Logger(),
	}
}

// Run blocks draining the queue until ctx is canceled or the queue closes.
// Leg failures are logged and the job is dropped; Alertmanager re-notifies
// on its repeat interval, so a transient outage heals on the next webhook.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		job, err := n.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Error().Err(err).Msg("dequeue failed")
			continue
		}

		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		n.notify(ctx, job)
	}
}

func (n *Notifier) notify(ctx context.Context, job queue.Job) {
	phone, err := n.resolve(ctx, job.Phone)
	if err != nil {
		n.log.Warn().Err(err).Str("receiver", job.Phone).Str("route", job.Route).Msg("receiver resolution failed")
		return
	}

	log := n.log.With().Str("phone", phone).Str("route", job.Route).Logger()
	switch Action(job.Route) {
	case ActionCallOnly:
		n.call(ctx, log, phone, job.Message)
	case ActionSMSOnly:
		n.text(ctx, log, phone, job.Message)
	case ActionSMSBeforeCall:
		// Pause after a delivered SMS so the text lands before the ring;
		// a failed SMS rings immediately.
		if n.text(ctx, log, phone, job.Message) {
			if !sleepCtx(ctx, n.leadTime) {
				return
			}
		}
		n.call(ctx, log, phone, job.Message)
	case ActionCallAndSMS:
		n.text(ctx, log, phone, job.Message)
		n.call(ctx, log, phone, job.Message)
	default:
		n.log.Warn().Str("route", job.Route).Msg("unknown dispatch route dropped")
		return
	}
	metrics.AlertsDispatchedTotal.WithLabelValues(receiverKind(job.Phone)).Inc()
}

func (n *Notifier) call(ctx context.Context, log zerolog.Logger, phone, message string) {
	if err := n.dialer.PlaceCall(ctx, DialablePhone(phone), message, false); err != nil {
		log.Error().Err(err).Msg("alert call failed")
		return
	}
	log.Info().Msg("alert call placed")
}

func (n *Notifier) text(ctx context.Context, log zerolog.Logger, phone, message string) bool {
	if err := n.sms.Send(ctx, phone, message); err != nil {
		log.Error().Err(err).Msg("alert sms failed")
		return false
	}
	log.Info().Msg("alert sms sent")
	return true
}

// resolve maps the "oncall" alias to the current primary on-call number;
// any other receiver is already a phone number.
func (n *Notifier) resolve(ctx context.Context, receiver string) (string, error) {
	if !strings.EqualFold(receiver, "oncall") {
		return receiver, nil
	}
	if n.book == nil {
		return "", errors.New("oncall receiver configured without an address book")
	}
	oncall, err := n.book.OnCall(ctx)
	if err != nil {
		return "", fmt.Errorf("on-call lookup: %w", err)
	}
	if oncall.PhoneNumber == "" {
		return "", errors.New("nobody is on call")
	}
	return oncall.PhoneNumber, nil
}

// DialablePhone rewrites the E.164 plus prefix to the PBX's international
// dial prefix.
func DialablePhone(phone string) string {
	return strings.ReplaceAll(phone, "+", "00")
}

func receiverKind(receiver string) string {
	if strings.EqualFold(receiver, "oncall") {
		return "oncall"
	}
	return "static"
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
