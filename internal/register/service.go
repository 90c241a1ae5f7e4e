// Package register implements the call register: the single writer for call
// cycle state. Every other service mutates calls only through this API.
package register

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/checksum"
	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/database"
	"github.com/snarg/klaxon/internal/events"
	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/scheduler"
)

// Dialplan consumers read this body without access to the HTTP status line.
const msgOutsideWindow = "Call is outside the firing period or not found"

// store is the slice of the database layer the register touches.
type store interface {
	ActiveCycle(ctx context.Context, callChkSum string) (*database.Call, error)
	InsertCall(ctx context.Context, c *database.Call) error
	BumpCycle(ctx context.Context, id uuid.UUID, asteriskChan string) error
	CallByChan(ctx context.Context, asteriskChan string) (*database.Call, error)
	Acknowledge(ctx context.Context, id uuid.UUID) error
	RecordLateAck(ctx context.Context, id uuid.UUID) error
	CascadeAcknowledge(ctx context.Context, msgChkSum string) (int64, error)
	MarkHeard(ctx context.Context, id uuid.UUID) error
	InsertScheduledCall(ctx context.Context, sc *database.ScheduledCall) error
}

// broadcaster pushes lifecycle transitions to live subscribers.
type broadcaster interface {
	Broadcast(eventType events.EventType, data any)
}

// Handler serves the call register API.
type Handler struct {
	store           store
	hub             broadcaster
	timesToDial     int
	secondsToForget int
	loc             *time.Location
	now             func() time.Time
	log             zerolog.Logger
}

func NewHandler(store store, hub broadcaster, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		store:           store,
		hub:             hub,
		timesToDial:     cfg.TimesToDial,
		secondsToForget: cfg.SecondsToForget,
		loc:             cfg.Location(),
		now:             func() time.Time { return time.Now().UTC() },
		log:             log.With().Str("component", "register").Logger(),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/register_call", h.registerCall)
	r.Post("/msg", h.voiceMessage)
	r.Get("/ack", h.acknowledge)
	r.Get("/heard", h.heard)
	r.Post("/scheduled_call", h.scheduledCall)
}

// RegisterCallRequest arrives as a JSON body or, for dialplan curl use, as
// query-string parameters.
type RegisterCallRequest struct {
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	AsteriskChan string `json:"asterisk_chan"`
	OnCall       bool   `json:"oncall"`
	BackupCallee bool   `json:"backup_callee"`
}

func (req *RegisterCallRequest) fromQuery(q url.Values) {
	if req.Phone == "" {
		req.Phone = q.Get("phone")
	}
	if req.Message == "" {
		req.Message = q.Get("message")
	}
	if req.AsteriskChan == "" {
		req.AsteriskChan = q.Get("asterisk_chan")
	}
	if !req.OnCall {
		req.OnCall, _ = strconv.ParseBool(q.Get("oncall"))
	}
	if !req.BackupCallee {
		req.BackupCallee, _ = strconv.ParseBool(q.Get("backup_callee"))
	}
}

// RegisterCallResponse reports which side of the dedup the attempt landed on.
type RegisterCallResponse struct {
	Status      int    `json:"status"`
	NewCycle    bool   `json:"new_cycle"`
	DialedTimes int    `json:"dialed_times"`
	CallChkSum  string `json:"call_chk_sum"`
}

func (h *Handler) registerCall(w http.ResponseWriter, r *http.Request) {
	var req RegisterCallRequest
	_ = api.DecodeJSON(r, &req)
	req.fromQuery(r.URL.Query())

	if req.Phone == "" || req.Message == "" {
		metrics.CallsRegisteredTotal.WithLabelValues("rejected").Inc()
		api.WriteError(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	ctx := r.Context()
	callChk := checksum.Call(req.Phone, req.Message)

	open, err := h.store.ActiveCycle(ctx, callChk)
	if err != nil {
		h.log.Error().Err(err).Str("call_chk_sum", callChk).Msg("active cycle lookup failed")
		metrics.CallsRegisteredTotal.WithLabelValues("error").Inc()
		api.WriteError(w, http.StatusInternalServerError, "call lookup failed")
		return
	}

	if open != nil {
		if err := h.store.BumpCycle(ctx, open.ID, req.AsteriskChan); err != nil {
			h.log.Error().Err(err).Stringer("id", open.ID).Msg("cycle update failed")
			metrics.CallsRegisteredTotal.WithLabelValues("error").Inc()
			api.WriteError(w, http.StatusInternalServerError, "cycle update failed")
			return
		}
		dialed := open.DialedTimes + 1
		if dialed > open.TimesToDial {
			dialed = open.TimesToDial
		}
		metrics.CallsRegisteredTotal.WithLabelValues("retried").Inc()
		h.hub.Broadcast(events.EventCallRetried, map[string]any{
			"phone":        req.Phone,
			"call_chk_sum": callChk,
			"dialed_times": dialed,
		})
		h.log.Info().
			Str("phone", req.Phone).
			Str("call_chk_sum", callChk).
			Int("dialed_times", dialed).
			Msg("attempt recorded on open cycle")
		api.WriteJSON(w, http.StatusOK, RegisterCallResponse{
			Status:      http.StatusOK,
			NewCycle:    false,
			DialedTimes: dialed,
			CallChkSum:  callChk,
		})
		return
	}

	now := h.now()
	call := &database.Call{
		Phone:           req.Phone,
		Message:         req.Message,
		AsteriskChan:    req.AsteriskChan,
		MsgChkSum:       checksum.Message(req.Message),
		CallChkSum:      callChk,
		UniqueChkSum:    checksum.Unique(req.Phone, req.Message, now.Format(time.RFC3339)),
		TimesToDial:     h.timesToDial,
		DialedTimes:     1,
		SecondsToForget: h.secondsToForget,
		FirstDial:       now,
		LastDial:        now,
		OnCall:          req.OnCall,
		BackupCallee:    req.BackupCallee,
	}
	if err := h.store.InsertCall(ctx, call); err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("call insert failed")
		metrics.CallsRegisteredTotal.WithLabelValues("error").Inc()
		api.WriteError(w, http.StatusInternalServerError, "call insert failed")
		return
	}
	metrics.CallsRegisteredTotal.WithLabelValues("registered").Inc()
	h.hub.Broadcast(events.EventCallRegistered, map[string]any{
		"phone":        req.Phone,
		"call_chk_sum": callChk,
		"msg_chk_sum":  call.MsgChkSum,
		"oncall":       req.OnCall,
	})
	h.log.Info().
		Str("phone", req.Phone).
		Str("call_chk_sum", callChk).
		Time("first_dial", now).
		Msg("new call cycle started")
	api.WriteJSON(w, http.StatusOK, RegisterCallResponse{
		Status:      http.StatusOK,
		NewCycle:    true,
		DialedTimes: 1,
		CallChkSum:  callChk,
	})
}

// VoiceMessageResponse carries the text to synthesize for a live channel.
// Unknown channels get empty strings, never an error: the monitor treats
// that as "nothing to play".
type VoiceMessageResponse struct {
	Message   string `json:"message"`
	MsgChkSum string `json:"msg_chk_sum"`
}

func (h *Handler) voiceMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsteriskChan string `json:"asterisk_chan"`
	}
	_ = api.DecodeJSON(r, &req)
	if req.AsteriskChan == "" {
		req.AsteriskChan = r.URL.Query().Get("asterisk_chan")
	}
	if req.AsteriskChan == "" {
		api.WriteError(w, http.StatusBadRequest, "asterisk_chan is required")
		return
	}

	call, err := h.store.CallByChan(r.Context(), req.AsteriskChan)
	if err != nil {
		h.log.Error().Err(err).Str("asterisk_chan", req.AsteriskChan).Msg("voice message lookup failed")
		api.WriteError(w, http.StatusInternalServerError, "voice message lookup failed")
		return
	}

	var resp VoiceMessageResponse
	if call != nil {
		resp.Message = call.Message
		resp.MsgChkSum = call.MsgChkSum
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// AckResponse reports the acknowledgement outcome.
type AckResponse struct {
	Status       int   `json:"status"`
	Acknowledged bool  `json:"acknowledged"`
	CyclesClosed int64 `json:"cycles_closed"`
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	asteriskChan, ok := api.RequireQuery(w, r, "asterisk_chan")
	if !ok {
		metrics.AcknowledgementsTotal.WithLabelValues("rejected").Inc()
		return
	}

	ctx := r.Context()
	call, err := h.store.CallByChan(ctx, asteriskChan)
	if err != nil {
		h.log.Error().Err(err).Str("asterisk_chan", asteriskChan).Msg("acknowledge lookup failed")
		metrics.AcknowledgementsTotal.WithLabelValues("error").Inc()
		api.WriteError(w, http.StatusInternalServerError, "acknowledge lookup failed")
		return
	}
	if call == nil {
		metrics.AcknowledgementsTotal.WithLabelValues("unknown").Inc()
		api.WriteStatusMessage(w, http.StatusBadRequest, msgOutsideWindow)
		return
	}

	if !call.InFiringWindow(h.now()) {
		// The timestamp stays for audit; the cycle does not close and no
		// cascade runs.
		if err := h.store.RecordLateAck(ctx, call.ID); err != nil {
			h.log.Error().Err(err).Stringer("id", call.ID).Msg("late ack record failed")
		}
		metrics.AcknowledgementsTotal.WithLabelValues("late").Inc()
		h.log.Warn().
			Str("asterisk_chan", asteriskChan).
			Str("phone", call.Phone).
			Time("first_dial", call.FirstDial).
			Msg("acknowledge arrived outside the firing window")
		api.WriteStatusMessage(w, http.StatusBadRequest, msgOutsideWindow)
		return
	}

	if err := h.store.Acknowledge(ctx, call.ID); err != nil {
		h.log.Error().Err(err).Stringer("id", call.ID).Msg("acknowledge failed")
		metrics.AcknowledgementsTotal.WithLabelValues("error").Inc()
		api.WriteError(w, http.StatusInternalServerError, "acknowledge failed")
		return
	}
	closed, err := h.store.CascadeAcknowledge(ctx, call.MsgChkSum)
	if err != nil {
		// The primary row is closed; the caller can safely retry to finish
		// the cascade.
		h.log.Error().Err(err).Str("msg_chk_sum", call.MsgChkSum).Msg("cascade acknowledge failed")
		metrics.AcknowledgementsTotal.WithLabelValues("error").Inc()
		api.WriteError(w, http.StatusInternalServerError, "cascade acknowledge failed")
		return
	}

	metrics.AcknowledgementsTotal.WithLabelValues("acknowledged").Inc()
	h.hub.Broadcast(events.EventCallAcknowledged, map[string]any{
		"phone":         call.Phone,
		"asterisk_chan": asteriskChan,
		"call_chk_sum":  call.CallChkSum,
	})
	if closed > 0 {
		h.hub.Broadcast(events.EventCycleClosed, map[string]any{
			"msg_chk_sum":   call.MsgChkSum,
			"cycles_closed": closed,
		})
	}
	h.log.Info().
		Str("phone", call.Phone).
		Str("asterisk_chan", asteriskChan).
		Int64("cycles_closed", closed).
		Msg("call acknowledged")
	api.WriteJSON(w, http.StatusOK, AckResponse{
		Status:       http.StatusOK,
		Acknowledged: true,
		CyclesClosed: closed,
	})
}

// HeardResponse mirrors the original unconditional 200: an unknown channel
// is reported, not rejected.
type HeardResponse struct {
	Status int  `json:"status"`
	Heard  bool `json:"heard"`
}

func (h *Handler) heard(w http.ResponseWriter, r *http.Request) {
	asteriskChan, ok := api.RequireQuery(w, r, "asterisk_chan")
	if !ok {
		return
	}

	ctx := r.Context()
	call, err := h.store.CallByChan(ctx, asteriskChan)
	if err != nil {
		h.log.Error().Err(err).Str("asterisk_chan", asteriskChan).Msg("heard lookup failed")
		api.WriteError(w, http.StatusInternalServerError, "heard lookup failed")
		return
	}
	if call == nil {
		api.WriteJSON(w, http.StatusOK, HeardResponse{Status: http.StatusOK, Heard: false})
		return
	}

	if err := h.store.MarkHeard(ctx, call.ID); err != nil {
		h.log.Error().Err(err).Stringer("id", call.ID).Msg("mark heard failed")
		api.WriteError(w, http.StatusInternalServerError, "mark heard failed")
		return
	}
	h.hub.Broadcast(events.EventCallHeard, map[string]any{
		"phone":         call.Phone,
		"asterisk_chan": asteriskChan,
	})
	h.log.Info().Str("phone", call.Phone).Str("asterisk_chan", asteriskChan).Msg("message heard")
	api.WriteJSON(w, http.StatusOK, HeardResponse{Status: http.StatusOK, Heard: true})
}

func (h *Handler) scheduledCall(w http.ResponseWriter, r *http.Request) {
	var req scheduler.ScheduledCallRequest
	_ = api.DecodeJSON(r, &req)
	if req.Phone == "" {
		req.Phone = r.URL.Query().Get("phone")
	}
	if req.Message == "" {
		req.Message = r.URL.Query().Get("message")
	}
	if req.ScheduledAt == "" {
		req.ScheduledAt = r.URL.Query().Get("scheduled_at")
	}

	sc, err := scheduler.Schedule(r.Context(), h.store, h.loc, req)
	if errors.Is(err, scheduler.ErrInvalidRequest) {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("scheduled call insert failed")
		api.WriteError(w, http.StatusInternalServerError, "could not store scheduled call")
		return
	}

	h.hub.Broadcast(events.EventCallScheduled, map[string]any{
		"phone":        sc.Phone,
		"scheduled_at": sc.ScheduledAt.Format(time.RFC3339),
	})
	h.log.Info().
		Str("phone", sc.Phone).
		Time("scheduled_at", sc.ScheduledAt).
		Msg("call scheduled")
	api.WriteJSON(w, http.StatusOK, scheduler.ScheduledCallResponse{
		Status:      http.StatusOK,
		ID:          sc.ID,
		ScheduledAt: sc.ScheduledAt.Format(time.RFC3339),
	})
}
