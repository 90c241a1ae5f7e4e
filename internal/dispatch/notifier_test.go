package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/queue"
)

// ── fakes ───────────────────────────────────────────────────────────

// legRecorder keeps the cross-leg ordering so tests can assert "sms before
// call" and not just "both happened".
type legRecorder struct {
	mu   sync.Mutex
	legs []string
}

func (r *legRecorder) record(leg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legs = append(r.legs, leg)
}

func (r *legRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.legs...)
}

type placedCall struct {
	phone   string
	message string
	backup  bool
}

type fakePlacer struct {
	rec   *legRecorder
	mu    sync.Mutex
	calls []placedCall
	err   error
}

func (p *fakePlacer) PlaceCall(_ context.Context, phone, message string, backup bool) error {
	p.mu.Lock()
	p.calls = append(p.calls, placedCall{phone: phone, message: message, backup: backup})
	err := p.err
	p.mu.Unlock()
	if p.rec != nil {
		p.rec.record("call")
	}
	return err
}

func (p *fakePlacer) placed() []placedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]placedCall(nil), p.calls...)
}

type sentText struct {
	phone   string
	message string
}

type fakeTexter struct {
	rec   *legRecorder
	mu    sync.Mutex
	calls []sentText
	err   error
}

func (s *fakeTexter) Send(_ context.Context, phone, message string) error {
	s.mu.Lock()
	s.calls = append(s.calls, sentText{phone: phone, message: message})
	err := s.err
	s.mu.Unlock()
	if s.rec != nil {
		s.rec.record("sms")
	}
	return err
}

func (s *fakeTexter) sent() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentText(nil), s.calls...)
}

type fakeRoster struct {
	oncall client.OnCallRoster
	err    error
}

func (r *fakeRoster) OnCall(_ context.Context) (client.OnCallRoster, error) {
	return r.oncall, r.err
}

// ── fixture ─────────────────────────────────────────────────────────

type notifierFixture struct {
	queue  *queue.Memory
	placer *fakePlacer
	texter *fakeTexter
	roster *fakeRoster
}

func newNotifier(t *testing.T) *notifierFixture {
	t.Helper()
	rec := &legRecorder{}
	f := &notifierFixture{
		queue:  queue.NewMemory(16),
		placer: &fakePlacer{rec: rec},
		texter: &fakeTexter{rec: rec},
		roster: &fakeRoster{},
	}

	n := NewNotifier(f.queue, f.placer, f.texter, f.roster, 10*time.Millisecond, zerolog.Nop())
	n.limiter = rate.NewLimiter(rate.Inf, 0) // no pacing in tests

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *notifierFixture) legRecorder() *legRecorder { return f.placer.rec }

func (f *notifierFixture) enqueue(t *testing.T, receiver, message string, a Action) {
	t.Helper()
	err := f.queue.Enqueue(context.Background(), queue.Job{Phone: receiver, Message: message, Route: string(a)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// settle enqueues a sentinel and waits for it, so earlier jobs are known to
// be fully processed.
func (f *notifierFixture) settle(t *testing.T) {
	t.Helper()
	f.enqueue(t, "+19990000", "sentinel", ActionCallOnly)
	waitFor(t, func() bool {
		for _, c := range f.placer.placed() {
			if c.message == "sentinel" {
				return true
			}
		}
		return false
	})
}

// ── actions ─────────────────────────────────────────────────────────

func TestNotifierCallOnly(t *testing.T) {
	f := newNotifier(t)

	f.enqueue(t, "+15550001", "disk full", ActionCallOnly)
	waitFor(t, func() bool { return len(f.placer.placed()) == 1 })

	call := f.placer.placed()[0]
	if call.phone != "0015550001" {
		t.Errorf("dialed phone = %q, want the PBX dial prefix applied", call.phone)
	}
	if call.message != "disk full" || call.backup {
		t.Errorf("call = %+v", call)
	}
	if len(f.texter.sent()) != 0 {
		t.Error("call_only must not send SMS")
	}
}

func TestNotifierSMSOnly(t *testing.T) {
	f := newNotifier(t)

	f.enqueue(t, "+15550001", "disk full", ActionSMSOnly)
	waitFor(t, func() bool { return len(f.texter.sent()) == 1 })

	text := f.texter.sent()[0]
	if text.phone != "+15550001" {
		t.Errorf("sms phone = %q, want the number untouched", text.phone)
	}
	if len(f.placer.placed()) != 0 {
		t.Error("sms_only must not place calls")
	}
}

func TestNotifierSMSBeforeCallOrdersLegs(t *testing.T) {
	f := newNotifier(t)

	f.enqueue(t, "+15550001", "disk full", ActionSMSBeforeCall)
	waitFor(t, func() bool { return len(f.placer.placed()) == 1 })

	legs := f.legRecorder().snapshot()
	if len(legs) != 2 || legs[0] != "sms" || legs[1] != "call" {
		t.Errorf("legs = %v, want sms then call", legs)
	}
}

func TestNotifierCallAndSMS(t *testing.T) {
	f := newNotifier(t)

	f.enqueue(t, "+15550001", "disk full", ActionCallAndSMS)
	waitFor(t, func() bool {
		return len(f.placer.placed()) == 1 && len(f.texter.sent()) == 1
	})
}

func TestNotifierSMSFailureStillCalls(t *testing.T) {
	f := newNotifier(t)
	f.texter.err = errors.New("carrier rejected")

	f.enqueue(t, "+15550001", "disk full", ActionSMSBeforeCall)
	waitFor(t, func() bool { return len(f.placer.placed()) == 1 })
}

func TestNotifierUnknownRouteDropped(t *testing.T) {
	f := newNotifier(t)

	f.enqueue(t, "+15550001", "disk full", Action("email"))
	f.settle(t)

	if len(f.texter.sent()) != 0 {
		t.Error("unknown route must not notify")
	}
	for _, c := range f.placer.placed() {
		if c.message != "sentinel" {
			t.Errorf("unexpected call %+v", c)
		}
	}
}

// ── receiver resolution ─────────────────────────────────────────────

func TestNotifierResolvesOnCallAlias(t *testing.T) {
	f := newNotifier(t)
	f.roster.oncall = client.OnCallRoster{PhoneNumber: "+15559999"}

	f.enqueue(t, "oncall", "disk full", ActionSMSOnly)
	waitFor(t, func() bool { return len(f.texter.sent()) == 1 })

	if got := f.texter.sent()[0].phone; got != "+15559999" {
		t.Errorf("sms phone = %q, want the on-call primary", got)
	}
}

func TestNotifierOnCallAliasEmptyRoster(t *testing.T) {
	f := newNotifier(t)
	f.roster.oncall = client.OnCallRoster{}

	f.enqueue(t, "oncall", "disk full", ActionCallAndSMS)
	f.settle(t)

	if len(f.texter.sent()) != 0 {
		t.Error("an empty roster must not notify anyone")
	}
}

func TestNotifierRosterErrorDropsJob(t *testing.T) {
	f := newNotifier(t)
	f.roster.err = errors.New("address book down")

	f.enqueue(t, "oncall", "disk full", ActionCallOnly)
	f.settle(t)

	for _, c := range f.placer.placed() {
		if c.message != "sentinel" {
			t.Errorf("unexpected call %+v", c)
		}
	}
}

// ── lifecycle ───────────────────────────────────────────────────────

func TestNotifierStopsOnQueueClose(t *testing.T) {
	q := queue.NewMemory(1)
	n := NewNotifier(q, &fakePlacer{}, &fakeTexter{}, nil, time.Millisecond, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()

	q.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on queue close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on queue close")
	}
}
