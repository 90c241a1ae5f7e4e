package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/addressbook"
	"github.com/snarg/klaxon/internal/api"
)

func addressBookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "addressbook",
		Short: "Run the address book service",
		Long: `The address book manages contacts and their on-call availability
windows, answers who is on call right now, and imports and exports the
roster as CSV. With a watch directory configured, CSV files dropped
there are imported automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("addressbook")
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

			svc := addressbook.NewService(db, cfg.Auth.JWTSecret, log)

			if dir := cfg.AddressBook.WatchDir; dir != "" {
				watcher := addressbook.NewWatcher(db, dir, log)
				if err := watcher.Start(); err != nil {
					return fmt.Errorf("start CSV watcher: %w", err)
				}
				defer watcher.Stop()
			}

			health := api.NewHealthHandler(version, startTime, api.DatabaseCheck(db))
			srv := api.NewServer(cfg, listenAddr(cfg.AddressBook.Addr), health, svc.Routes,
				log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log)
		},
	}
}
