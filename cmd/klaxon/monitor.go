package main

import (
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/monitor"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the PBX event monitor",
		Long: `The monitor consumes the PBX's ARI event stream over a WebSocket,
persists every frame, and walks answered calls through synthesis and
playback. A closed stream or a failed event flush exits non-zero so the
supervisor restarts a monitor that can no longer keep the event log
faithful.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("monitor")
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

			reg := client.NewRegister(cfg.RegisterURL, cfg.Auth.Token, cfg.ClientTimeout)
			audio := client.NewAudio(cfg.AudioURL, cfg.Auth.Token, cfg.ClientTimeout)
			dial := client.NewDialer(cfg.DialerURL, cfg.Auth.Token, cfg.ClientTimeout)

			mon := monitor.New(cfg, db, reg, audio, dial, log)
			return runHeadless(ctx, log, mon.Run)
		},
	}
}
