package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/queue"
)

const webhookBody = `{
	"version": "4",
	"status": "firing",
	"alerts": [
		{"status": "firing", "labels": {"alertname": "DiskFull"}, "annotations": {"description": "disk full on db1"}},
		{"status": "resolved", "annotations": {"description": "cpu cooled down"}}
	]
}`

func newService(t *testing.T, queueSize int, receivers ...string) (*Service, *queue.Memory, *chi.Mux) {
	t.Helper()
	q := queue.NewMemory(queueSize)
	t.Cleanup(func() { q.Close() })
	svc := NewService(q, receivers, zerolog.Nop())
	mux := chi.NewRouter()
	svc.Routes(mux)
	return svc, q, mux
}

func postJSON(t *testing.T, mux *chi.Mux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func drain(t *testing.T, q *queue.Memory) []queue.Job {
	t.Helper()
	var jobs []queue.Job
	for q.Len() > 0 {
		j, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// ── webhook endpoints ───────────────────────────────────────────────

func TestDispatchFansOutToReceivers(t *testing.T) {
	_, q, mux := newService(t, 16, "+15550001", "+15550002")

	rec := postJSON(t, mux, "/call_and_sms", webhookBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp DispatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "200" || resp.Queued != 2 {
		t.Errorf("response = %+v, want status 200 and 2 queued", resp)
	}

	jobs := drain(t, q)
	if len(jobs) != 2 {
		t.Fatalf("queued jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Phone != "+15550001" || jobs[1].Phone != "+15550002" {
		t.Errorf("receivers = %q, %q", jobs[0].Phone, jobs[1].Phone)
	}
	for _, j := range jobs {
		if j.Message != "disk full on db1" || j.Route != "call_and_sms" {
			t.Errorf("job = %+v", j)
		}
	}
}

func TestDispatchRouteSelectsAction(t *testing.T) {
	for _, path := range []string{"call_only", "sms_only", "sms_before_call", "call_and_sms"} {
		t.Run(path, func(t *testing.T) {
			_, q, mux := newService(t, 4, "+15550001")
			if rec := postJSON(t, mux, "/"+path, webhookBody); rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			jobs := drain(t, q)
			if len(jobs) != 1 || jobs[0].Route != path {
				t.Errorf("jobs = %+v, want one with route %s", jobs, path)
			}
		})
	}
}

func TestDispatchRejectsInvalidPayload(t *testing.T) {
	_, q, mux := newService(t, 4, "+15550001")

	rec := postJSON(t, mux, "/call_only", `{"alerts": "nope"`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if q.Len() != 0 {
		t.Error("rejected payload must not queue anything")
	}
}

func TestDispatchNothingFiring(t *testing.T) {
	_, q, mux := newService(t, 4, "+15550001")

	body := `{"alerts":[{"status":"resolved","annotations":{"description":"all good"}}]}`
	rec := postJSON(t, mux, "/sms_only", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp DispatchResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Queued != 0 || q.Len() != 0 {
		t.Errorf("queued = %d (len %d), want 0", resp.Queued, q.Len())
	}
}

func TestDispatchFullQueueDropsOverflow(t *testing.T) {
	_, q, mux := newService(t, 1, "+15550001", "+15550002")

	rec := postJSON(t, mux, "/call_only", webhookBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp DispatchResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Queued != 1 {
		t.Errorf("queued = %d, want 1 with a single-slot queue", resp.Queued)
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1", q.Len())
	}
}

// ── MQTT intake ─────────────────────────────────────────────────────

func TestIntakeDispatchesByRoute(t *testing.T) {
	svc, q, _ := newService(t, 4, "+15550001")
	intake := NewIntake(nil, svc, zerolog.Nop())

	payload := `{"route":"sms_only","alerts":[{"status":"firing","annotations":{"description":"rack 3 overheating"}}]}`
	intake.onMessage("klaxon/alerts", []byte(payload))

	jobs := drain(t, q)
	if len(jobs) != 1 || jobs[0].Route != "sms_only" || jobs[0].Message != "rack 3 overheating" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestIntakeDropsUnknownRoute(t *testing.T) {
	svc, q, _ := newService(t, 4, "+15550001")
	intake := NewIntake(nil, svc, zerolog.Nop())

	intake.onMessage("klaxon/alerts", []byte(`{"route":"email","alerts":[{"status":"firing"}]}`))
	intake.onMessage("klaxon/alerts", []byte(`not json`))

	if q.Len() != 0 {
		t.Errorf("queue len = %d, want 0", q.Len())
	}
}
