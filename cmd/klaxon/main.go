// Command klaxon runs the notification orchestrator. Every long-running
// service is a subcommand of the one binary, sharing the environment-driven
// configuration, so a deployment is the same image started nine ways.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/api"
	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/database"
	"github.com/snarg/klaxon/internal/events"
	"github.com/snarg/klaxon/internal/queue"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

var startTime = time.Now()

// overrides collects the persistent CLI flags; non-empty values win over the
// environment.
var overrides config.Overrides

func main() {
	root := &cobra.Command{
		Use:   "klaxon",
		Short: "Phone-call and SMS notification orchestrator",
		Long: `klaxon turns alerts into phone calls that demand acknowledgement.

Each subcommand runs one service: the call register (cycle state), the
dialer (PBX origination), the recaller (retries and backup escalation),
the PBX event monitor, the audio cache (TTS artifacts), the address book,
the scheduler, the SMS sender and the alert dispatcher. Configuration
comes from the environment, optionally seeded from a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&overrides.EnvFile, "env-file", "", "dotenv file loaded before the environment (default .env)")
	pf.StringVar(&overrides.Addr, "addr", "", "listen address override for the service subcommand")
	pf.StringVar(&overrides.LogLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	pf.StringVar(&overrides.DatabaseURL, "database-url", "", "database DSN override")
	pf.StringVar(&overrides.AudioDir, "audio-dir", "", "audio artifact directory override")

	root.AddCommand(
		registerCmd(),
		dialerCmd(),
		recallerCmd(),
		monitorCmd(),
		audioCacheCmd(),
		addressBookCmd(),
		schedulerCmd(),
		smsCmd(),
		dispatchCmd(),
		userCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the klaxon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("klaxon", version)
		},
	}
}

// bootstrap loads configuration and builds the root logger. Every subcommand
// starts here.
func bootstrap(service string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg, service)
	log.Info().Str("version", version).Msg("starting")
	return cfg, log, nil
}

func newLogger(cfg *config.Config, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(w).With().Timestamp().Str("service", service).Logger().Level(level)
}

// signalContext is the lifetime of a service process: canceled on SIGINT or
// SIGTERM so a slow dependency connect aborts cleanly too.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// connectDatabase opens the pool and brings the schema up to date. A failed
// migration prints the SQL an operator must run.
func connectDatabase(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*database.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, log.With().Str("component", "database").Logger())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// listenAddr applies the --addr flag over the service's configured address.
func listenAddr(configured string) string {
	if overrides.Addr != "" {
		return overrides.Addr
	}
	return configured
}

// serve runs the HTTP server plus any background loops until the context ends
// or one of them fails, then drains the server with a 10 s graceful shutdown.
// Loops that return context.Canceled count as clean exits.
func serve(ctx context.Context, srv *api.Server, log zerolog.Logger, loops ...func(context.Context) error) error {
	errCh := make(chan error, len(loops)+1)
	go func() { errCh <- srv.Start() }()
	for _, loop := range loops {
		loop := loop
		go func() { errCh <- loop(ctx) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("service loop failed")
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("stopped")
	return runErr
}

// runHeadless drives a loop-only service (no HTTP listener) to completion.
func runHeadless(ctx context.Context, log zerolog.Logger, loop func(context.Context) error) error {
	err := loop(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("service loop failed")
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

// liveStats adapts whichever of the per-service queue and event hub exist to
// the scrape-time metrics collector.
type liveStats struct {
	queue queue.Queue
	hub   *events.Hub
}

func (s liveStats) QueueDepth() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}

func (s liveStats) SubscriberCount() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.SubscriberCount()
}
