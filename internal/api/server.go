package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/metrics"
)

// Server is the HTTP harness shared by every klaxon service. Each service
// supplies its routes through mount; the harness owns middleware, health,
// metrics and lifecycle.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewServer builds a service listener on addr. Routes registered by mount sit
// behind the internal bearer token when one is configured; /health and
// /metrics stay open so probes and scrapes need no credentials.
func NewServer(cfg *config.Config, addr string, health *HealthHandler, mount func(chi.Router), log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	if cfg.EnableTelemetry {
		r.Use(metrics.InstrumentHandler)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	if health != nil {
		r.Get("/health", health.ServeHTTP)
	}

	// Authenticated routes
	r.Group(func(gr chi.Router) {
		if cfg.Auth.Token != "" {
			gr.Use(BearerAuth(cfg.Auth.Token))
		}
		if mount != nil {
			mount(gr)
		}
	})

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
