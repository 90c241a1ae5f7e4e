package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/checksum"
	"github.com/snarg/klaxon/internal/database"
)

// ErrInvalidRequest marks input problems the caller can fix.
var ErrInvalidRequest = errors.New("invalid scheduled call")

type scheduleStore interface {
	InsertScheduledCall(ctx context.Context, sc *database.ScheduledCall) error
}

// Handler serves the scheduling API.
type Handler struct {
	store scheduleStore
	loc   *time.Location
	log   zerolog.Logger
}

func NewHandler(store scheduleStore, loc *time.Location, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		loc:   loc,
		log:   log.With().Str("component", "scheduler").Logger(),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/scheduled_call", h.scheduledCall)
}

// ScheduledCallRequest is the wire shape shared with the register service.
type ScheduledCallRequest struct {
	Phone       string `json:"phone"`
	Message     string `json:"message"`
	ScheduledAt string `json:"scheduled_at"`
}

// ScheduledCallResponse echoes the stored row.
type ScheduledCallResponse struct {
	Status      int       `json:"status"`
	ID          uuid.UUID `json:"id"`
	ScheduledAt string    `json:"scheduled_at"`
}

func (h *Handler) scheduledCall(w http.ResponseWriter, r *http.Request) {
	var req ScheduledCallRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sc, err := Schedule(r.Context(), h.store, h.loc, req)
	if errors.Is(err, ErrInvalidRequest) {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("scheduled call insert failed")
		api.WriteError(w, http.StatusInternalServerError, "could not store scheduled call")
		return
	}

	h.log.Info().
		Str("phone", sc.Phone).
		Time("scheduled_at", sc.ScheduledAt).
		Msg("call scheduled")
	api.WriteJSON(w, http.StatusOK, ScheduledCallResponse{
		Status:      http.StatusOK,
		ID:          sc.ID,
		ScheduledAt: sc.ScheduledAt.Format(time.RFC3339),
	})
}

// Schedule validates req, resolves the wall clock in loc and inserts the row.
// Shared by this service and the register's scheduled_call route. Input
// problems wrap ErrInvalidRequest; anything else is a storage failure.
func Schedule(ctx context.Context, store scheduleStore, loc *time.Location, req ScheduledCallRequest) (*database.ScheduledCall, error) {
	if req.Phone == "" || req.Message == "" || req.ScheduledAt == "" {
		return nil, fmt.Errorf("%w: phone, message and scheduled_at are required", ErrInvalidRequest)
	}

	at, err := ParseLocal(req.ScheduledAt, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sc := &database.ScheduledCall{
		Phone:       req.Phone,
		Message:     req.Message,
		CallChkSum:  checksum.Call(req.Phone, req.Message),
		ScheduledAt: at,
	}
	if err := store.InsertScheduledCall(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}
