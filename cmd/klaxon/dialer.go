package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/dialer"
	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/mqttclient"
	"github.com/snarg/klaxon/internal/queue"
)

func dialerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialer",
		Short: "Run the dialer service",
		Long: `The dialer originates calls on the PBX over ARI, registers every attempt
with the call register, and drains the paced dial queue. With an MQTT
broker configured the queue rides the broker; otherwise it lives
in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("dialer")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			health := api.NewHealthHandler(version, startTime)

			var q queue.Queue
			if cfg.MQTT.BrokerURL != "" {
				mq, err := mqttclient.Connect(mqttclient.Options{
					BrokerURL: cfg.MQTT.BrokerURL,
					ClientID:  cfg.MQTT.ClientID + "-dialer",
					Topics:    cfg.MQTT.QueueTopic,
					Username:  cfg.MQTT.Username,
					Password:  cfg.MQTT.Password,
					Log:       log.With().Str("component", "mqtt").Logger(),
				})
				if err != nil {
					return fmt.Errorf("connect mqtt broker: %w", err)
				}
				defer mq.Close()
				q = queue.NewMQTT(mq, cfg.MQTT.QueueTopic, cfg.Dialer.QueueSize,
					log.With().Str("component", "dial_queue").Logger())
				health.AddCheck(api.MQTTCheck(mq))
			} else {
				q = queue.NewMemory(cfg.Dialer.QueueSize)
			}
			defer q.Close()

			book := client.NewAddressBook(cfg.AddressBookURL, cfg.Auth.Token, cfg.ClientTimeout)
			reg := client.NewRegister(cfg.RegisterURL, cfg.Auth.Token, cfg.ClientTimeout)
			pbx := dialer.NewARIClient(cfg.Asterisk, cfg.ClientTimeout)

			handler := dialer.NewHandler(pbx, dialer.NewAddressBookResolver(book), reg, q, cfg, log)
			consumer := dialer.NewConsumer(q, handler, cfg, log)

			if cfg.EnableTelemetry {
				prometheus.MustRegister(metrics.NewCollector(nil, liveStats{queue: q}))
			}

			srv := api.NewServer(cfg, listenAddr(cfg.Dialer.Addr), health, handler.Routes,
				log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log, consumer.Run)
		},
	}
}
