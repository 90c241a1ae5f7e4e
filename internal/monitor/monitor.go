// Package monitor consumes the PBX's ARI event stream over a WebSocket,
// persists every frame append-only, and reacts to answered calls by playing
// the cycle's rendered message on the live channel.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/client"
	"github.com/snarg/klaxon/internal/config"
	"github.com/snarg/klaxon/internal/database"
	"github.com/snarg/klaxon/internal/metrics"
)

// eventStore persists raw PBX frames. Satisfied by *database.DB.
type eventStore interface {
	InsertPbxEvents(ctx context.Context, events []database.PbxEvent) (int64, error)
}

// registry resolves channels back to their voice message. Satisfied by
// *client.Register.
type registry interface {
	Message(ctx context.Context, asteriskChan string) (client.VoiceMessage, error)
}

// synthesizer drives the audio cache. Satisfied by *client.Audio.
type synthesizer interface {
	MakeAudio(ctx context.Context, message, msgChkSum string) error
	WaitUntilReady(ctx context.Context, msgChkSum string, interval time.Duration, attempts int) (bool, error)
}

// player starts playback on a live channel. Satisfied by *client.Dialer.
type player interface {
	Play(ctx context.Context, asteriskChan, msgChkSum string) error
}

// Monitor is the single long-lived ARI event consumer. Frame persistence
// rides the insert batcher; a flush failure is fatal so no event is silently
// lost for longer than one batch window.
type Monitor struct {
	url      string
	register registry
	audio    synthesizer
	dialer   player
	batch    *database.Batcher[database.PbxEvent]

	pollInterval time.Duration
	pollRetries  int
	flushTimeout time.Duration

	fatal chan error
	now   func() time.Time
	log   zerolog.Logger
}

func New(cfg *config.Config, store eventStore, reg registry, audio synthesizer, dialer player, log zerolog.Logger) *Monitor {
	m := &Monitor{
		url:          StreamURL(cfg.Asterisk),
		register:     reg,
		audio:        audio,
		dialer:       dialer,
		pollInterval: cfg.Monitor.PollInterval,
		pollRetries:  cfg.Monitor.PollRetries,
		flushTimeout: 10 * time.Second,
		fatal:        make(chan error, 1),
		now:          func() time.Time { return time.Now().UTC() },
		log:          log.With().Str("component", "monitor").Logger(),
	}
	m.batch = database.NewBatcher(cfg.Monitor.BatchSize, cfg.Monitor.BatchFlush,
		func(events []database.PbxEvent) error {
			ctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
			defer cancel()
			if _, err := store.InsertPbxEvents(ctx, events); err != nil {
				return fmt.Errorf("persist event batch: %w", err)
			}
			return nil
		},
		m.reportFatal,
	)
	return m
}

// StreamURL builds the ARI events endpoint. The WebSocket scheme follows
// the PBX's configured HTTP scheme.
func StreamURL(pbx config.AsteriskConfig) string {
	scheme := "ws"
	if pbx.Scheme == "https" {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("api_key", pbx.User+":"+pbx.Pass)
	q.Set("app", pbx.StasisApp)
	host := net.JoinHostPort(pbx.Host, strconv.Itoa(pbx.WebPort))
	return fmt.Sprintf("%s://%s/ari/events?%s", scheme, host, q.Encode())
}

// Run connects to the PBX and consumes frames until ctx is canceled. Any
// other return is fatal: a refused or closed WebSocket and a failed event
// flush all mean the monitor can no longer keep its event log faithful, so
// the process exits and the supervisor restarts it.
func (m *Monitor) Run(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect PBX websocket: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("connect PBX websocket: %w", err)
	}
	defer conn.Close()
	defer m.batch.Stop()

	m.log.Info().Str("url", redactURL(m.url)).Msg("connected to PBX event stream")

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case err := <-m.fatal:
			return err
		case err := <-readErr:
			return fmt.Errorf("PBX websocket closed: %w", err)
		case raw := <-frames:
			m.handleFrame(ctx, raw)
		}
	}
}

// handleFrame persists one raw frame and, for an answered call, kicks off
// the playback orchestration. Orchestration failures are logged, not fatal:
// the cycle stays unacknowledged and the recaller redials it.
func (m *Monitor) handleFrame(ctx context.Context, raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		m.log.Warn().Err(err).Int("bytes", len(raw)).Msg("undecodable PBX frame dropped")
		return
	}

	metrics.PBXEventsTotal.WithLabelValues(frame.Type).Inc()
	m.batch.Add(database.PbxEvent{
		AsteriskChan: frame.Chan(),
		EventType:    frame.Type,
		JSONData:     frame.Raw,
		ReceivedAt:   m.now(),
	})

	if !frame.Answered() {
		return
	}
	if err := m.playMessage(ctx, frame.Chan()); err != nil {
		m.log.Error().Err(err).Str("asterisk_chan", frame.Chan()).Msg("playback orchestration failed")
	}
}

// playMessage walks an answered channel through voice message resolution,
// synthesis, the readiness poll, and playback.
func (m *Monitor) playMessage(ctx context.Context, asteriskChan string) error {
	vm, err := m.register.Message(ctx, asteriskChan)
	if err != nil {
		return fmt.Errorf("resolve voice message: %w", err)
	}
	if vm.Message == "" {
		m.log.Warn().Str("asterisk_chan", asteriskChan).Msg("answered channel has no registered message")
		return nil
	}

	if err := m.audio.MakeAudio(ctx, vm.Message, vm.MsgChkSum); err != nil {
		var se *client.StatusError
		if errors.As(err, &se) {
			// Synthesis failed upstream; polling would never succeed.
			return fmt.Errorf("synthesis rejected: %w", err)
		}
		return fmt.Errorf("request synthesis: %w", err)
	}

	ready, err := m.audio.WaitUntilReady(ctx, vm.MsgChkSum, m.pollInterval, m.pollRetries)
	if err != nil {
		return fmt.Errorf("poll audio readiness: %w", err)
	}
	if !ready {
		return fmt.Errorf("audio %s not ready after %d polls", vm.MsgChkSum, m.pollRetries)
	}

	if err := m.dialer.Play(ctx, asteriskChan, vm.MsgChkSum); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	metrics.PlaybacksStartedTotal.Inc()
	m.log.Info().
		Str("asterisk_chan", asteriskChan).
		Str("msg_chk_sum", vm.MsgChkSum).
		Msg("playback started")
	return nil
}

func (m *Monitor) reportFatal(err error) {
	select {
	case m.fatal <- err:
	default:
	}
}

// redactURL strips the api_key credential out of the stream URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "…")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
