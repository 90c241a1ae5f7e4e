package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/audiocache"
	"github.com/snarg/klaxon/internal/storage"
)

func audioCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audiocache",
		Short: "Run the audio cache service",
		Long: `The audio cache renders call messages into PBX-playable WAV artifacts
with the configured TTS engine and serves them back to Asterisk.
Artifacts are content-addressed by message checksum; with an S3 bucket
configured they are mirrored there for durability.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("audiocache")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			store, background, err := storage.New(cfg.S3, cfg.Audio.Dir,
				log.With().Str("component", "storage").Logger())
			if err != nil {
				return fmt.Errorf("init artifact store: %w", err)
			}
			for _, bg := range background {
				bg.Start()
				defer bg.Stop()
			}

			engine, err := audiocache.NewEngine(ctx, cfg.Audio, cfg.ClientTimeout)
			if err != nil {
				return fmt.Errorf("init TTS engine: %w", err)
			}
			log.Info().Str("engine", engine.Name()).Str("store", store.Type()).
				Int("workers", cfg.Audio.Workers).Msg("synthesis backend ready")

			synth := audiocache.NewSynthesizer(engine, store, cfg.Audio.Workers, log)
			svc := audiocache.NewService(synth, cfg.Audio.Dir, log)

			health := api.NewHealthHandler(version, startTime)
			srv := api.NewServer(cfg, listenAddr(cfg.Audio.Addr), health, svc.Routes,
				log.With().Str("component", "http").Logger())

			return serve(ctx, srv, log)
		},
	}
}
