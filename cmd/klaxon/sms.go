package main

import (
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/sms"
)

func smsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sms",
		Short: "Run the SMS sender service",
		Long: `The SMS sender delivers text notifications through the configured
carrier: Twilio's Messages API or an on-premise JSON gateway. Sends run
on a small worker pool; the HTTP response reflects the send outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("sms")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			// An unsupported carrier is a per-request error, not a startup
			// one: the service answers every send with the carrier error so
			// a misconfigured deployment is visible in the caller's logs.
			var pool *sms.Pool
			carrier, err := sms.NewCarrier(cfg.SMS, cfg.ClientTimeout)
			if err != nil {
				log.Warn().Err(err).Msg("SMS carrier unavailable, sends will fail")
			} else {
				pool = sms.NewPool(carrier, cfg.SMS.Workers, log)
				pool.Start()
				defer pool.Stop()
			}

			svc := sms.NewService(pool, cfg.SMS.Carrier, log)

			health := api.NewHealthHandler(version, startTime)
			srv := api.NewServer(cfg, listenAddr(cfg.SMS.Addr), health, svc.Routes,
				log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log)
		},
	}
}
