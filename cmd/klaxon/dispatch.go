package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/dispatch"
	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/mqttclient"
	"github.com/snarg/klaxon/internal/queue"
)

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run the alert dispatcher",
		Long: `The dispatcher receives Alertmanager webhooks and fans firing alerts
out to the configured receivers as phone calls, text messages or both,
depending on the route the webhook hits. With DISPATCH_MQTT_INTAKE set
it also consumes alert payloads from the MQTT broker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("dispatch")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			// The webhook handler and the pacing consumer share this process,
			// so the notification queue never needs the broker.
			q := queue.NewMemory(cfg.Dispatch.QueueSize)
			defer q.Close()

			svc := dispatch.NewService(q, cfg.Dispatch.Receivers, log)

			dial := client.NewDialer(cfg.DialerURL, cfg.Auth.Token, cfg.ClientTimeout)
			text := client.NewSMS(cfg.SMSURL, cfg.Auth.Token, cfg.ClientTimeout)
			book := client.NewAddressBook(cfg.AddressBookURL, cfg.Auth.Token, cfg.ClientTimeout)
			notifier := dispatch.NewNotifier(q, dial, text, book, cfg.Dispatch.SMSLeadTime, log)

			health := api.NewHealthHandler(version, startTime)

			if cfg.Dispatch.MQTTIntake {
				if cfg.MQTT.BrokerURL == "" {
					return fmt.Errorf("DISPATCH_MQTT_INTAKE requires MQTT_BROKER_URL")
				}
				mq, err := mqttclient.Connect(mqttclient.Options{
					BrokerURL: cfg.MQTT.BrokerURL,
					ClientID:  cfg.MQTT.ClientID + "-dispatch",
					Topics:    cfg.MQTT.AlertTopic,
					Username:  cfg.MQTT.Username,
					Password:  cfg.MQTT.Password,
					Log:       log.With().Str("component", "mqtt").Logger(),
				})
				if err != nil {
					return fmt.Errorf("connect mqtt broker: %w", err)
				}
				defer mq.Close()
				dispatch.NewIntake(mq, svc, log)
				health.AddCheck(api.MQTTCheck(mq))
				log.Info().Str("topic", cfg.MQTT.AlertTopic).Msg("MQTT alert intake enabled")
			}

			if cfg.EnableTelemetry {
				prometheus.MustRegister(metrics.NewCollector(nil, liveStats{queue: q}))
			}

			srv := api.NewServer(cfg, listenAddr(cfg.Dispatch.Addr), health, svc.Routes,
				log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log, notifier.Run)
		},
	}
}
