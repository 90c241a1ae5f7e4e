// Package addressbook manages contacts, their on-call availability windows,
// and operator logins. It answers the "who do we call right now" question
// for the dialer and the recaller.
package addressbook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/database"
)

// store is the slice of the database layer the address book touches.
type store interface {
	InsertContact(ctx context.Context, c *database.Contact) error
	UpdateContact(ctx context.Context, c *database.Contact) error
	DeleteContact(ctx context.Context, id uuid.UUID) error
	GetContact(ctx context.Context, id uuid.UUID) (*database.Contact, error)
	ContactByIdentity(ctx context.Context, phone, name, surname string) (*database.Contact, error)
	ListContacts(ctx context.Context) ([]database.Contact, error)
	EnabledContacts(ctx context.Context) ([]database.Contact, error)
	UserByEmail(ctx context.Context, email string) (*database.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// Service serves the address book HTTP API.
type Service struct {
	store     store
	jwtSecret []byte
	now       func() time.Time
	log       zerolog.Logger
}

func NewService(store store, jwtSecret string, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "addressbook").Logger(),
	}
}

func (s *Service) Routes(r chi.Router) {
	r.Post("/login", s.login)
	r.Get("/on_call_contact", s.onCall)
	r.Get("/contacts", s.listContacts)
	r.Get("/contacts_export_csv", s.exportCSV)

	// Mutations need an operator token once a JWT secret is configured.
	r.Group(func(r chi.Router) {
		if len(s.jwtSecret) > 0 {
			r.Use(api.JWTAuth(s.jwtSecret))
		}
		r.Post("/add_contact", s.addContact)
		r.Put("/modify_contact/{id}", s.modifyContact)
		r.Delete("/delete_contact", s.deleteContacts)
		r.Post("/contacts_import_csv", s.importCSV)
	})
}

// ── contacts ────────────────────────────────────────────────────────

// AddContactRequest creates a contact. Enabled and Availability are
// pointers so a missing field is distinguishable from a zero value.
type AddContactRequest struct {
	Name         string                         `json:"name"`
	Surname      string                         `json:"surname"`
	Address      string                         `json:"address"`
	ZipCode      string                         `json:"zip_code"`
	City         string                         `json:"city"`
	State        string                         `json:"state"`
	Country      string                         `json:"country"`
	PhoneNumber  string                         `json:"phone_number"`
	Enabled      *bool                          `json:"enabled"`
	Annotations  string                         `json:"annotations"`
	Availability *[]database.AvailabilityWindow `json:"on_call_availability"`
}

func (req *AddContactRequest) missingFields() []string {
	var missing []string
	if req.Name == "" {
		missing = append(missing, "name")
	}
	if req.PhoneNumber == "" {
		missing = append(missing, "phone_number")
	}
	if req.Availability == nil {
		missing = append(missing, "on_call_availability")
	}
	if req.Enabled == nil {
		missing = append(missing, "enabled")
	}
	return missing
}

func (s *Service) addContact(w http.ResponseWriter, r *http.Request) {
	var req AddContactRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if missing := req.missingFields(); len(missing) > 0 {
		api.WriteError(w, http.StatusBadRequest, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	c := &database.Contact{
		Name:         req.Name,
		Surname:      req.Surname,
		Address:      req.Address,
		ZipCode:      req.ZipCode,
		City:         req.City,
		State:        req.State,
		Country:      req.Country,
		PhoneNumber:  req.PhoneNumber,
		Enabled:      *req.Enabled,
		Annotations:  req.Annotations,
		Availability: *req.Availability,
	}
	if err := s.store.InsertContact(r.Context(), c); err != nil {
		s.log.Error().Err(err).Str("name", req.Name).Msg("contact insert failed")
		api.WriteError(w, http.StatusInternalServerError, "contact insert failed")
		return
	}
	s.log.Info().Stringer("id", c.ID).Str("name", c.Name).Msg("contact added")
	api.WriteJSON(w, http.StatusCreated, map[string]string{"id": c.ID.String()})
}

// ModifyContactRequest is a partial update: only non-nil fields change.
type ModifyContactRequest struct {
	Name         *string                        `json:"name"`
	Surname      *string                        `json:"surname"`
	Address      *string                        `json:"address"`
	ZipCode      *string                        `json:"zip_code"`
	City         *string                        `json:"city"`
	State        *string                        `json:"state"`
	Country      *string                        `json:"country"`
	PhoneNumber  *string                        `json:"phone_number"`
	Enabled      *bool                          `json:"enabled"`
	Annotations  *string                        `json:"annotations"`
	Availability *[]database.AvailabilityWindow `json:"on_call_availability"`
}

func (req *ModifyContactRequest) apply(c *database.Contact) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&c.Name, req.Name)
	setString(&c.Surname, req.Surname)
	setString(&c.Address, req.Address)
	setString(&c.ZipCode, req.ZipCode)
	setString(&c.City, req.City)
	setString(&c.State, req.State)
	setString(&c.Country, req.Country)
	setString(&c.PhoneNumber, req.PhoneNumber)
	setString(&c.Annotations, req.Annotations)
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	if req.Availability != nil {
		c.Availability = *req.Availability
	}
}

func (s *Service) modifyContact(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathUUID(r, "id")
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	var req ModifyContactRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	c, err := s.store.GetContact(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Stringer("id", id).Msg("contact lookup failed")
		api.WriteError(w, http.StatusInternalServerError, "contact lookup failed")
		return
	}
	if c == nil {
		api.WriteJSON(w, http.StatusOK, map[string]int{"updated": 0})
		return
	}

	req.apply(c)
	if err := s.store.UpdateContact(ctx, c); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			api.WriteJSON(w, http.StatusOK, map[string]int{"updated": 0})
			return
		}
		s.log.Error().Err(err).Stringer("id", id).Msg("contact update failed")
		api.WriteError(w, http.StatusInternalServerError, "contact update failed")
		return
	}
	s.log.Info().Stringer("id", id).Msg("contact modified")
	api.WriteJSON(w, http.StatusOK, map[string]int{"updated": 1})
}

func (s *Service) deleteContacts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := api.DecodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		api.WriteError(w, http.StatusBadRequest, "provide JSON body with 'ids': [uuid, ...]")
		return
	}

	ctx := r.Context()
	deleted := 0
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "provide JSON body with 'ids': [uuid, ...]")
			return
		}
		switch err := s.store.DeleteContact(ctx, id); {
		case err == nil:
			deleted++
		case errors.Is(err, database.ErrNotFound):
			// Absent rows are not an error: deletes are idempotent.
		default:
			s.log.Error().Err(err).Stringer("id", id).Msg("contact delete failed")
			api.WriteError(w, http.StatusInternalServerError, "contact delete failed")
			return
		}
	}
	s.log.Info().Int("deleted", deleted).Msg("contacts deleted")
	api.WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// ContactResponse is the wire shape of one address book entry.
type ContactResponse struct {
	ID           string                        `json:"id"`
	Name         string                        `json:"name"`
	Surname      string                        `json:"surname"`
	Address      string                        `json:"address"`
	ZipCode      string                        `json:"zip_code"`
	City         string                        `json:"city"`
	State        string                        `json:"state"`
	Country      string                        `json:"country"`
	PhoneNumber  string                        `json:"phone_number"`
	Enabled      bool                          `json:"enabled"`
	CreatedTime  string                        `json:"created_time"`
	Annotations  string                        `json:"annotations"`
	Availability []database.AvailabilityWindow `json:"on_call_availability"`
}

func toContactResponse(c *database.Contact) ContactResponse {
	return ContactResponse{
		ID:           c.ID.String(),
		Name:         c.Name,
		Surname:      c.Surname,
		Address:      c.Address,
		ZipCode:      c.ZipCode,
		City:         c.City,
		State:        c.State,
		Country:      c.Country,
		PhoneNumber:  c.PhoneNumber,
		Enabled:      c.Enabled,
		CreatedTime:  c.CreatedTime.UTC().Format(time.RFC3339),
		Annotations:  c.Annotations,
		Availability: c.Availability,
	}
}

func (s *Service) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.ListContacts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("contact list failed")
		api.WriteError(w, http.StatusInternalServerError, "contact list failed")
		return
	}
	out := make([]ContactResponse, len(contacts))
	for i := range contacts {
		out[i] = toContactResponse(&contacts[i])
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"contacts": out})
}

// ── on-call resolution ──────────────────────────────────────────────

// RosterResponse is the on-call selection at request time. PhoneNumber is
// the primary callee, empty when nobody is on duty; Contacts is the full
// escalation chain so callers can walk the backups.
type RosterResponse struct {
	PhoneNumber string        `json:"phone_number"`
	Contacts    []RosterEntry `json:"contacts"`
}

func (s *Service) onCall(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.EnabledContacts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("on-call lookup failed")
		api.WriteError(w, http.StatusInternalServerError, "on-call lookup failed")
		return
	}

	roster := OnDuty(contacts, s.now())
	resp := RosterResponse{Contacts: roster}
	if len(roster) > 0 {
		resp.PhoneNumber = roster[0].PhoneNumber
	} else {
		s.log.Warn().Msg("no contact currently on call")
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// ── CSV ─────────────────────────────────────────────────────────────

func (s *Service) exportCSV(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.ListContacts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("contact export failed")
		api.WriteError(w, http.StatusInternalServerError, "contact export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=address_book_export.csv")
	if err := ExportCSV(w, contacts); err != nil {
		// Headers are gone; all we can do is log.
		s.log.Error().Err(err).Msg("contact export write failed")
	}
}

func (s *Service) importCSV(w http.ResponseWriter, r *http.Request) {
	var body = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			api.WriteStatusMessage(w, http.StatusBadRequest, "No file field provided")
			return
		}
		defer file.Close()
		body = file
	}

	report, err := ImportCSV(r.Context(), s.store, body)
	if err != nil {
		s.log.Error().Err(err).Msg("contact import failed")
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().
		Int("processed", report.ProcessedRows).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("errors", report.ErrorsCount).
		Msg("contact CSV imported")
	api.WriteJSON(w, http.StatusOK, report)
}

// ── operator login ──────────────────────────────────────────────────

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	GivenName string `json:"given_name"`
}

func (s *Service) login(w http.ResponseWriter, r *http.Request) {
	if len(s.jwtSecret) == 0 {
		api.WriteError(w, http.StatusServiceUnavailable, "operator login is not configured")
		return
	}
	var req LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		api.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	ctx := r.Context()
	user, err := s.store.UserByEmail(ctx, req.Email)
	if err != nil {
		s.log.Error().Err(err).Str("email", req.Email).Msg("login lookup failed")
		api.WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || !user.IsActive {
		api.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	ok, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		api.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := api.IssueToken(s.jwtSecret, user.ID, user.Email)
	if err != nil {
		s.log.Error().Err(err).Str("email", req.Email).Msg("token issue failed")
		api.WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Stringer("id", user.ID).Msg("last login stamp failed")
	}

	s.log.Info().Str("email", user.Email).Msg("operator logged in")
	api.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		GivenName: user.GivenName,
	})
}
