package main

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/events"
	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/register"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Run the call register service",
		Long: `The call register is the single writer for call cycle state: it dedupes
dial attempts into cycles, records acknowledgements and playback, and
answers which message belongs to a live channel. Operators can follow
lifecycle transitions live at GET /ws.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("register")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			db, err := connectDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			hub := events.NewHub(log)
			go hub.Run(ctx)

			handler := register.NewHandler(db, hub, cfg, log)

			if cfg.EnableTelemetry {
				prometheus.MustRegister(metrics.NewCollector(db.Pool, liveStats{hub: hub}))
			}

			health := api.NewHealthHandler(version, startTime, api.DatabaseCheck(db))
			srv := api.NewServer(cfg, listenAddr(cfg.Register.Addr), health, func(r chi.Router) {
				handler.Routes(r)
				r.Get("/ws", hub.ServeWS)
			}, log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log)
		},
	}
}
