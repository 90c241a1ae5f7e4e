package main

import (
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/recaller"
)

func recallerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recaller",
		Short: "Run the recaller sweep loop",
		Long: `The recaller re-dials open call cycles nobody acknowledged: plain
retries while attempts remain, then escalation to the on-call backup
once the primary's window is spent. It runs headless; state lives in
the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("recaller")
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

			dial := client.NewDialer(cfg.DialerURL, cfg.Auth.Token, cfg.ClientTimeout)
			book := client.NewAddressBook(cfg.AddressBookURL, cfg.Auth.Token, cfg.ClientTimeout)

			rec := recaller.New(db, dial, book, cfg, log)
			return runHeadless(ctx, log, rec.Run)
		},
	}
}
