package dialer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/queue"
)

// pbx is the slice of the ARI client the service drives.
type pbx interface {
	Originate(ctx context.Context, endpoint, extension, dialCtx, callerID string) (string, int, error)
	Play(ctx context.Context, asteriskChan, mediaURI string) (int, error)
	Continue(ctx context.Context, asteriskChan string) error
}

// registrar records dial attempts with the call register.
type registrar interface {
	RegisterCall(ctx context.Context, req client.RegisterCallRequest) error
}

// Handler serves the dialer API: immediate calls, queued calls and playback
// on answered channels.
type Handler struct {
	pbx        pbx
	resolver   OnCallResolver
	register   registrar
	queue      queue.Queue
	chanType   string
	extension  string
	dialCtx    string
	callerID   string
	servingURL string
	log        zerolog.Logger
}

func NewHandler(p pbx, resolver OnCallResolver, reg registrar, q queue.Queue, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		pbx:        p,
		resolver:   resolver,
		register:   reg,
		queue:      q,
		chanType:   cfg.Asterisk.ChanType,
		extension:  cfg.Asterisk.Extension,
		dialCtx:    cfg.Asterisk.Context,
		callerID:   cfg.Asterisk.CallerID,
		servingURL: cfg.Audio.ServingURL,
		log:        log.With().Str("component", "dialer").Logger(),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/place_call", h.placeCall)
	r.Post("/call_to_queue", h.callToQueue)
	r.Post("/play", h.play)
}

// PlaceCallRequest names the callee and the message to speak. Phone may be
// the "oncall" alias.
type PlaceCallRequest struct {
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	BackupCallee bool   `json:"backup_callee"`
}

func (req *PlaceCallRequest) fromQuery(q url.Values) {
	if req.Phone == "" {
		req.Phone = q.Get("phone")
	}
	if req.Message == "" {
		req.Message = q.Get("message")
	}
	if !req.BackupCallee {
		req.BackupCallee, _ = strconv.ParseBool(q.Get("backup_callee"))
	}
}

// statusResponse mirrors the PBX answer into the body so dialplan and CLI
// consumers see the originate outcome without parsing headers.
type statusResponse struct {
	Status int `json:"status"`
}

func (h *Handler) placeCall(w http.ResponseWriter, r *http.Request) {
	var req PlaceCallRequest
	_ = api.DecodeJSON(r, &req)
	req.fromQuery(r.URL.Query())

	if req.Phone == "" || req.Message == "" {
		api.WriteError(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	status, err := h.Dial(r.Context(), req.Phone, req.Message, req.BackupCallee)
	if err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Int("pbx_status", status).Msg("call failed")
		api.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, statusResponse{Status: status})
}

// Dial resolves phone, originates the channel and records the attempt with
// the call register. The returned status is the PBX answer to the originate;
// 0 means the PBX was never reached.
//
// The register receives the resolved number, not the alias. Retries must
// land on the same cycle even when the on-call roster rotates mid-incident,
// and the cycle key is derived from the number that actually rang.
func (h *Handler) Dial(ctx context.Context, phone, message string, backup bool) (int, error) {
	oncall := IsOnCallAlias(phone)

	resolved, err := h.resolver.Resolve(ctx, phone)
	if err != nil {
		metrics.DialAttemptsTotal.WithLabelValues("resolve_failed").Inc()
		return 0, err
	}

	endpoint := ChannelEndpoint(h.chanType, resolved)
	asteriskChan, status, err := h.pbx.Originate(ctx, endpoint, h.extension, h.dialCtx, h.callerID)
	if err != nil {
		metrics.DialAttemptsTotal.WithLabelValues("pbx_error").Inc()
		return status, err
	}
	metrics.DialAttemptsTotal.WithLabelValues("ok").Inc()

	regReq := client.RegisterCallRequest{
		Phone:        resolved,
		Message:      message,
		AsteriskChan: asteriskChan,
		OnCall:       oncall,
		BackupCallee: backup,
	}
	if err := h.register.RegisterCall(ctx, regReq); err != nil {
		return status, fmt.Errorf("record attempt for channel %s: %w", asteriskChan, err)
	}

	h.log.Info().
		Str("phone", resolved).
		Str("asterisk_chan", asteriskChan).
		Bool("oncall", oncall).
		Bool("backup_callee", backup).
		Msg("call placed")
	return status, nil
}

// CallToQueueRequest is a call to place later, paced by the queue consumer.
type CallToQueueRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (req *CallToQueueRequest) fromQuery(q url.Values) {
	if req.Phone == "" {
		req.Phone = q.Get("phone")
	}
	if req.Message == "" {
		req.Message = q.Get("message")
	}
}

func (h *Handler) callToQueue(w http.ResponseWriter, r *http.Request) {
	var req CallToQueueRequest
	_ = api.DecodeJSON(r, &req)
	req.fromQuery(r.URL.Query())

	if req.Phone == "" || req.Message == "" {
		api.WriteError(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	err := h.queue.Enqueue(r.Context(), queue.Job{Phone: req.Phone, Message: req.Message})
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		api.WriteError(w, http.StatusTooManyRequests, "dial queue is full")
		return
	case err != nil:
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("enqueue failed")
		api.WriteError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	metrics.QueuePublishedTotal.WithLabelValues("dialer").Inc()
	h.log.Info().Str("phone", req.Phone).Int("depth", h.queue.Len()).Msg("call queued")
	api.WriteJSON(w, http.StatusOK, statusResponse{Status: http.StatusOK})
}

// PlayRequest names the channel to play on and the cached message to play.
type PlayRequest struct {
	AsteriskChan string `json:"asterisk_chan"`
	MsgChkSum    string `json:"msg_chk_sum"`
}

func (req *PlayRequest) fromQuery(q url.Values) {
	if req.AsteriskChan == "" {
		req.AsteriskChan = q.Get("asterisk_chan")
	}
	if req.MsgChkSum == "" {
		req.MsgChkSum = q.Get("msg_chk_sum")
	}
}

func (h *Handler) play(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	_ = api.DecodeJSON(r, &req)
	req.fromQuery(r.URL.Query())

	if req.AsteriskChan == "" || req.MsgChkSum == "" {
		api.WriteError(w, http.StatusBadRequest, "asterisk_chan and msg_chk_sum are required")
		return
	}

	ctx := r.Context()
	mediaURI := fmt.Sprintf("sound:%s/%s.wav", h.servingURL, req.MsgChkSum)

	status, err := h.pbx.Play(ctx, req.AsteriskChan, mediaURI)
	if err != nil {
		h.log.Error().Err(err).Str("asterisk_chan", req.AsteriskChan).Msg("playback failed")
	} else {
		metrics.PlaybacksStartedTotal.Inc()
		h.log.Info().Str("asterisk_chan", req.AsteriskChan).Str("msg_chk_sum", req.MsgChkSum).Msg("playback started")
	}

	// The channel must leave the control application no matter how playback
	// went, or it stays parked until the caller hangs up.
	if err := h.pbx.Continue(ctx, req.AsteriskChan); err != nil {
		h.log.Error().Err(err).Str("asterisk_chan", req.AsteriskChan).Msg("dialplan continue failed")
	}

	api.WriteJSON(w, http.StatusOK, statusResponse{Status: status})
}
