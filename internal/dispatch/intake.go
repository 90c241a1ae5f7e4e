package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/mqttclient"
)

// Intake feeds broker-published alerts into the dispatcher, so co-located
// systems can raise notifications without speaking HTTP. Each message is a
// webhook payload plus the route that picks the delivery action.
type Intake struct {
	svc *Service
	log zerolog.Logger
}

// NewIntake registers the intake as the client's message handler. A nil
// client leaves the intake unbound.
func NewIntake(client *mqttclient.Client, svc *Service, log zerolog.Logger) *Intake {
	i := &Intake{
		svc: svc,
		log: log.With().Str("component", "dispatch_intake").Logger(),
	}
	if client != nil {
		client.SetMessageHandler(i.onMessage)
	}
	return i
}

type intakeMessage struct {
	Route string `json:"route"`
	WebhookPayload
}

func (i *Intake) onMessage(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	var msg intakeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		i.log.Warn().Err(err).Str("topic", topic).Msg("undecodable alert dropped")
		return
	}
	action := Action(msg.Route)
	if !action.valid() {
		i.log.Warn().Str("route", msg.Route).Str("topic", topic).Msg("alert with unknown route dropped")
		return
	}
	i.svc.Dispatch(context.Background(), msg.WebhookPayload, action)
}
