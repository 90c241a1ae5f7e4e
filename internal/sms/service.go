// Package sms delivers text notifications through a configurable carrier:
// Twilio's Messages API or an on-premise GSM gateway. Sends run on a fixed
// worker pool and the HTTP response reports the delivery outcome.
package sms

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
)

// Service serves the SMS delivery API. A nil pool means the configured
// carrier is not supported; requests are answered with the canonical error
// body so misconfiguration shows up in the caller's logs, not as a dead
// listener.
type Service struct {
	pool    *Pool
	carrier string
	log     zerolog.Logger
}

func NewService(pool *Pool, carrier string, log zerolog.Logger) *Service {
	return &Service{
		pool:    pool,
		carrier: carrier,
		log:     log.With().Str("component", "sms").Logger(),
	}
}

func (s *Service) Routes(r chi.Router) {
	r.Post("/send_sms", s.sendSMS)
}

// SendRequest arrives as a JSON body or, for curl-style use, as query-string
// parameters.
type SendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (req *SendRequest) fromQuery(q url.Values) {
	if req.Phone == "" {
		req.Phone = q.Get("phone")
	}
	if req.Message == "" {
		req.Message = q.Get("message")
	}
}

// SendResponse repeats the status in the body for consumers that read the
// payload without the response status line.
type SendResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Service) sendSMS(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	_ = api.DecodeJSON(r, &req)
	req.fromQuery(r.URL.Query())

	if req.Phone == "" || req.Message == "" {
		api.WriteError(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	if s.pool == nil {
		s.log.Error().Str("carrier", s.carrier).Msg("carrier not supported")
		api.WriteJSON(w, http.StatusInternalServerError, SendResponse{
			Status: http.StatusInternalServerError,
			Error:  "Carrier not supported",
		})
		return
	}

	if err := s.pool.Send(r.Context(), req.Phone, req.Message); err != nil {
		s.log.Error().Err(err).Str("phone", req.Phone).Msg("sms send failed")
		api.WriteJSON(w, http.StatusInternalServerError, SendResponse{Status: http.StatusInternalServerError})
		return
	}
	api.WriteJSON(w, http.StatusOK, SendResponse{Status: http.StatusOK})
}
