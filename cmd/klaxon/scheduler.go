package main

import (
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/scheduler"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduled-call service",
		Long: `The scheduler accepts wall-clock call requests and fires them through
the dialer once their instant passes. Pending rows survive restarts;
past-due rows fire on the first sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("scheduler")
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

			handler := scheduler.NewHandler(db, cfg.Location(), log)

			dial := client.NewDialer(cfg.DialerURL, cfg.Auth.Token, cfg.ClientTimeout)
			dispatcher := scheduler.NewDelayedDispatcher(db, dial, cfg.Scheduler.SweepInterval, log)

			health := api.NewHealthHandler(version, startTime, api.DatabaseCheck(db))
			srv := api.NewServer(cfg, listenAddr(cfg.Scheduler.Addr), health, handler.Routes,
				log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log, dispatcher.Run)
		},
	}
}
