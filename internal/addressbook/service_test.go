package addressbook

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/database"
)

// ── fixture ─────────────────────────────────────────────────────────

type fixture struct {
	store *fakeStore
	svc   *Service
	mux   *chi.Mux
	now   time.Time
}

func newFixture(t *testing.T, jwtSecret string) *fixture {
	t.Helper()
	f := &fixture{
		store: &fakeStore{},
		now:   time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, jwtSecret, zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	f.mux = chi.NewRouter()
	f.svc.Routes(f.mux)
	return f
}

func (f *fixture) request(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedContact(t *testing.T, name, phone string, enabled bool, windows ...database.AvailabilityWindow) *database.Contact {
	t.Helper()
	c := &database.Contact{Name: name, PhoneNumber: phone, Enabled: enabled, Availability: windows}
	if err := f.store.InsertContact(context.Background(), c); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

func enabledWindows(now time.Time) []database.AvailabilityWindow {
	return []database.AvailabilityWindow{{
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		Priority: 1,
	}}
}

func boolPtr(b bool) *bool { return &b }

func addRequest(name, phone string) AddContactRequest {
	windows := []database.AvailabilityWindow{}
	return AddContactRequest{
		Name:         name,
		PhoneNumber:  phone,
		Enabled:      boolPtr(true),
		Availability: &windows,
	}
}

// ── add / modify / delete ───────────────────────────────────────────

func TestAddContact(t *testing.T) {
	f := newFixture(t, "")

	rec := f.request(t, "POST", "/add_contact", addRequest("Ada", "+1555000"), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] == "" {
		t.Error("expected the new contact id in the response")
	}
	if f.store.count() != 1 {
		t.Errorf("contacts = %d, want 1", f.store.count())
	}
}

func TestAddContactListsMissingFields(t *testing.T) {
	f := newFixture(t, "")

	rec := f.request(t, "POST", "/add_contact", map[string]string{"surname": "Shelley"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := rec.Body.String()
	for _, field := range []string{"name", "phone_number", "on_call_availability", "enabled"} {
		if !strings.Contains(body, field) {
			t.Errorf("error body %q does not name missing field %s", body, field)
		}
	}
}

func TestModifyContactPartialUpdate(t *testing.T) {
	f := newFixture(t, "")
	c := f.seedContact(t, "Ada", "+1555000", true)

	phone := "+1555999"
	rec := f.request(t, "PUT", "/modify_contact/"+c.ID.String(), ModifyContactRequest{PhoneNumber: &phone}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"updated":1`) {
		t.Errorf("body = %s, want updated:1", rec.Body.String())
	}

	got, _ := f.store.GetContact(context.Background(), c.ID)
	if got.PhoneNumber != "+1555999" {
		t.Errorf("phone = %q, want the update applied", got.PhoneNumber)
	}
	if got.Name != "Ada" || !got.Enabled {
		t.Error("untouched fields must survive a partial update")
	}
}

func TestModifyContactUnknownIdReportsZero(t *testing.T) {
	f := newFixture(t, "")

	name := "Nobody"
	rec := f.request(t, "PUT", "/modify_contact/2f5c02ff-0000-0000-0000-000000000000", ModifyContactRequest{Name: &name}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"updated":0`) {
		t.Errorf("body = %s, want updated:0", rec.Body.String())
	}
}

func TestDeleteContacts(t *testing.T) {
	f := newFixture(t, "")
	a := f.seedContact(t, "Ada", "+1", true)
	b := f.seedContact(t, "Bo", "+2", true)

	rec := f.request(t, "DELETE", "/delete_contact", map[string][]string{
		"ids": {a.ID.String(), b.ID.String(), "4aaf0e6a-0000-0000-0000-000000000000"},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"deleted":2`) {
		t.Errorf("body = %s, want deleted:2", rec.Body.String())
	}
	if f.store.count() != 0 {
		t.Errorf("contacts left = %d, want 0", f.store.count())
	}
}

func TestDeleteContactsRejectsBadBody(t *testing.T) {
	f := newFixture(t, "")
	f.seedContact(t, "Ada", "+1", true)

	if rec := f.request(t, "DELETE", "/delete_contact", map[string]string{}, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("empty ids: status = %d, want 400", rec.Code)
	}
	rec := f.request(t, "DELETE", "/delete_contact", map[string][]string{"ids": {"not-a-uuid"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad uuid: status = %d, want 400", rec.Code)
	}
	if f.store.count() != 1 {
		t.Error("rejected request must not delete anything")
	}
}

// ── on-call endpoint ────────────────────────────────────────────────

func TestOnCallContactReturnsRoster(t *testing.T) {
	f := newFixture(t, "")
	f.seedContact(t, "Primary", "+1", true, enabledWindows(f.now)...)
	f.seedContact(t, "Backup", "+2", true, database.AvailabilityWindow{
		StartAt: f.now.Add(-time.Hour), EndAt: f.now.Add(time.Hour), Priority: 2,
	})

	rec := f.request(t, "GET", "/on_call_contact", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp RosterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PhoneNumber != "+1" {
		t.Errorf("phone_number = %q, want the primary", resp.PhoneNumber)
	}
	if len(resp.Contacts) != 2 || resp.Contacts[1].PhoneNumber != "+2" {
		t.Errorf("contacts = %+v, want the ordered chain", resp.Contacts)
	}
}

func TestOnCallContactEmptyRoster(t *testing.T) {
	f := newFixture(t, "")
	f.seedContact(t, "OffDuty", "+1", true) // no windows

	rec := f.request(t, "GET", "/on_call_contact", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with nobody on call", rec.Code)
	}
	var resp RosterResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.PhoneNumber != "" || len(resp.Contacts) != 0 {
		t.Errorf("response = %+v, want an empty roster", resp)
	}
}

// ── list / export / import endpoints ────────────────────────────────

func TestListContacts(t *testing.T) {
	f := newFixture(t, "")
	f.seedContact(t, "Ada", "+1", true)

	rec := f.request(t, "GET", "/contacts", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Contacts []ContactResponse `json:"contacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Contacts) != 1 || resp.Contacts[0].Name != "Ada" {
		t.Errorf("contacts = %+v", resp.Contacts)
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	f := newFixture(t, "")
	f.seedContact(t, "Ada", "+1555000", true)

	rec := f.request(t, "GET", "/contacts_export_csv", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "address_book_export.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "id,name,surname") {
		t.Errorf("body does not start with the canonical header: %q", rec.Body.String()[:40])
	}
}

func TestImportCSVEndpointRawBody(t *testing.T) {
	f := newFixture(t, "")

	csvBody := "name,phone_number,enabled\nAda,+1555000,true\n"
	req := httptest.NewRequest("POST", "/contacts_import_csv", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var report ImportReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Created != 1 || report.Status != 200 {
		t.Errorf("report = %+v", report)
	}
}

func TestImportCSVEndpointMultipart(t *testing.T) {
	f := newFixture(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "contacts.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("name,phone_number\nAda,+1555000\n"))
	mw.Close()

	req := httptest.NewRequest("POST", "/contacts_import_csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.store.count() != 1 {
		t.Errorf("contacts = %d, want 1", f.store.count())
	}
}

func TestImportCSVEndpointMultipartWithoutFile(t *testing.T) {
	f := newFixture(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "no file here")
	mw.Close()

	req := httptest.NewRequest("POST", "/contacts_import_csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No file field provided") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// ── login and token gating ──────────────────────────────────────────

func seedUser(t *testing.T, f *fixture, email, password string, active bool) {
	t.Helper()
	hash, err := database.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	f.store.users = append(f.store.users, &database.User{
		ID:           uuid.New(),
		GivenName:    "Op",
		Email:        email,
		PasswordHash: hash,
		IsActive:     active,
	})
}

func TestLoginIssuesToken(t *testing.T) {
	f := newFixture(t, "test-secret")
	seedUser(t, f, "op@example.com", "hunter2", true)

	rec := f.request(t, "POST", "/login", LoginRequest{Email: "op@example.com", Password: "hunter2"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" || resp.ExpiresAt == "" {
		t.Errorf("response = %+v, want a token and expiry", resp)
	}
	if f.store.users[0].LastLogin.IsZero() {
		t.Error("expected last_login stamped")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, "test-secret")
	seedUser(t, f, "op@example.com", "hunter2", true)
	seedUser(t, f, "locked@example.com", "hunter2", false)

	cases := []struct {
		name string
		req  LoginRequest
		want int
	}{
		{"wrong password", LoginRequest{Email: "op@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", LoginRequest{Email: "ghost@example.com", Password: "hunter2"}, http.StatusUnauthorized},
		{"inactive user", LoginRequest{Email: "locked@example.com", Password: "hunter2"}, http.StatusUnauthorized},
		{"missing fields", LoginRequest{Email: "op@example.com"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := f.request(t, "POST", "/login", tc.req, ""); rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestLoginUnavailableWithoutSecret(t *testing.T) {
	f := newFixture(t, "")
	if rec := f.request(t, "POST", "/login", LoginRequest{Email: "a@b", Password: "c"}, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMutationsRequireTokenWhenConfigured(t *testing.T) {
	f := newFixture(t, "test-secret")
	seedUser(t, f, "op@example.com", "hunter2", true)

	// No token: rejected.
	rec := f.request(t, "POST", "/add_contact", addRequest("Ada", "+1"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated add: status = %d, want 401", rec.Code)
	}

	// Reads stay open.
	if rec := f.request(t, "GET", "/contacts", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("unauthenticated list: status = %d, want 200", rec.Code)
	}

	// With a token from /login: accepted.
	login := f.request(t, "POST", "/login", LoginRequest{Email: "op@example.com", Password: "hunter2"}, "")
	var resp LoginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	rec = f.request(t, "POST", "/add_contact", addRequest("Ada", "+1"), resp.Token)
	if rec.Code != http.StatusCreated {
		t.Errorf("authenticated add: status = %d: %s", rec.Code, rec.Body.String())
	}
}
