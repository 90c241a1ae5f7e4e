package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ── fakes ───────────────────────────────────────────────────────────

type sentSMS struct {
	phone   string
	message string
}

type fakeCarrier struct {
	mu    sync.Mutex
	calls []sentSMS
	err   error
}

func (c *fakeCarrier) Send(_ context.Context, phone, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sentSMS{phone: phone, message: message})
	return c.err
}

func (c *fakeCarrier) Name() string { return "fake" }

func (c *fakeCarrier) sent() []sentSMS {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentSMS(nil), c.calls...)
}

func (c *fakeCarrier) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// ── fixture ─────────────────────────────────────────────────────────

type fixture struct {
	carrier *fakeCarrier
	pool    *Pool
	mux     *chi.Mux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{carrier: &fakeCarrier{}}
	f.pool = NewPool(f.carrier, 2, zerolog.Nop())
	f.pool.Start()
	t.Cleanup(f.pool.Stop)

	svc := NewService(f.pool, "fake", zerolog.Nop())
	f.mux = chi.NewRouter()
	svc.Routes(f.mux)
	return f
}

func (f *fixture) post(t *testing.T, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeSend(t *testing.T, rec *httptest.ResponseRecorder) SendResponse {
	t.Helper()
	var resp SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// ── handler ─────────────────────────────────────────────────────────

func TestSendSMSDeliversThroughCarrier(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/send_sms", `{"phone":"+15550001","message":"db1 is down"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeSend(t, rec); resp.Status != http.StatusOK {
		t.Errorf("body status = %d, want 200", resp.Status)
	}

	sent := f.carrier.sent()
	if len(sent) != 1 || sent[0].phone != "+15550001" || sent[0].message != "db1 is down" {
		t.Errorf("carrier calls = %+v", sent)
	}
}

func TestSendSMSAcceptsQueryParams(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/send_sms?phone=%2B15550001&message=db1+is+down", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	sent := f.carrier.sent()
	if len(sent) != 1 || sent[0].phone != "+15550001" {
		t.Errorf("carrier calls = %+v, want the decoded plus sign", sent)
	}
}

func TestSendSMSRejectsMissingParams(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{}`, `{"phone":"+1"}`, `{"message":"hi"}`} {
		if rec := f.post(t, "/send_sms", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
	if len(f.carrier.sent()) != 0 {
		t.Error("rejected requests must not reach the carrier")
	}
}

func TestSendSMSReportsCarrierFailure(t *testing.T) {
	f := newFixture(t)
	f.carrier.setErr(errors.New("twilio API error (status 401)"))

	rec := f.post(t, "/send_sms", `{"phone":"+15550001","message":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeSend(t, rec); resp.Status != http.StatusInternalServerError {
		t.Errorf("body status = %d, want 500", resp.Status)
	}
}

func TestSendSMSUnsupportedCarrier(t *testing.T) {
	svc := NewService(nil, "smoke-signal", zerolog.Nop())
	mux := chi.NewRouter()
	svc.Routes(mux)

	req := httptest.NewRequest("POST", "/send_sms", strings.NewReader(`{"phone":"+1","message":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != 500 || resp.Error != "Carrier not supported" {
		t.Errorf("body = %+v", resp)
	}
}

// ── pool ────────────────────────────────────────────────────────────

func TestPoolCountsOutcomes(t *testing.T) {
	f := newFixture(t)

	if err := f.pool.Send(context.Background(), "+1", "ok"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.carrier.setErr(errors.New("no route"))
	if err := f.pool.Send(context.Background(), "+2", "boom"); err == nil {
		t.Fatal("expected the carrier error surfaced")
	}

	stats := f.pool.Stats()
	if stats.Sent != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want sent:1 failed:1", stats)
	}
}

// blockingCarrier parks every send until released, to hold jobs in flight.
type blockingCarrier struct {
	release chan struct{}
}

func (c *blockingCarrier) Send(_ context.Context, _, _ string) error {
	<-c.release
	return nil
}

func (c *blockingCarrier) Name() string { return "slow" }

func TestPoolSendHonorsContext(t *testing.T) {
	carrier := &blockingCarrier{release: make(chan struct{})}
	pool := NewPool(carrier, 1, zerolog.Nop())
	pool.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Send(ctx, "+1", "hi"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}

	close(carrier.release)
	pool.Stop()
}
