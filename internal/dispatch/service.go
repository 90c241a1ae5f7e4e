// Package dispatch turns Alertmanager webhook notifications into phone calls
// and text messages. Each endpoint picks a delivery action; firing alerts
// fan out to the configured receivers through a bounded queue whose consumer
// paces the dialer and the SMS carrier.
package dispatch

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/queue"
)

// Service serves the alert webhook API.
type Service struct {
	queue     queue.Queue
	receivers []string
	log       zerolog.Logger
}

func NewService(q queue.Queue, receivers []string, log zerolog.Logger) *Service {
	return &Service{
		queue:     q,
		receivers: receivers,
		log:       log.With().Str("component", "dispatch").Logger(),
	}
}

func (s *Service) Routes(r chi.Router) {
	r.Post("/call_only", s.action(ActionCallOnly))
	r.Post("/sms_only", s.action(ActionSMSOnly))
	r.Post("/sms_before_call", s.action(ActionSMSBeforeCall))
	r.Post("/call_and_sms", s.action(ActionCallAndSMS))
}

// DispatchResponse acknowledges the webhook. Status is a string because
// that is what Alertmanager-era consumers of this API historically parsed.
type DispatchResponse struct {
	Status string `json:"status"`
	Queued int    `json:"queued"`
}

func (s *Service) action(a Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload WebhookPayload
		if err := api.DecodeJSON(r, &payload); err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid alertmanager payload")
			return
		}

		queued := s.Dispatch(r.Context(), payload, a)
		api.WriteJSON(w, http.StatusOK, DispatchResponse{Status: "200", Queued: queued})
	}
}

// Dispatch fans one webhook payload out to every receiver and returns the
// number of notifications queued. A full queue drops the notification:
// Alertmanager repeats unresolved alerts, so the next webhook retries.
func (s *Service) Dispatch(ctx context.Context, payload WebhookPayload, a Action) int {
	queued := 0
	for _, message := range FiringDescriptions(payload) {
		for _, receiver := range s.receivers {
			job := queue.Job{Phone: receiver, Message: message, Route: string(a)}
			if err := s.queue.Enqueue(ctx, job); err != nil {
				s.log.Error().Err(err).
					Str("receiver", receiver).
					Str("route", string(a)).
					Msg("notification enqueue failed")
				continue
			}
			queued++
		}
	}
	if queued > 0 {
		s.log.Info().Int("queued", queued).Str("route", string(a)).Msg("alerts queued for notification")
	}
	return queued
}
