package audiocache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/storage"
)

// Synthesizer renders messages into content-addressed WAV artifacts.
// Concurrent requests for one checksum share a single rendering through the
// inflight map; total parallel engine calls are capped by the slot pool.
type Synthesizer struct {
	engine Engine
	store  storage.ArtifactStore
	slots  chan struct{}
	log    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*render
}

// render is one in-progress synthesis. done closes once the artifact is
// validly on disk or the attempt failed; err holds the outcome.
type render struct {
	done chan struct{}
	err  error
}

func NewSynthesizer(engine Engine, store storage.ArtifactStore, workers int, log zerolog.Logger) *Synthesizer {
	if workers < 1 {
		workers = 1
	}
	return &Synthesizer{
		engine:   engine,
		store:    store,
		slots:    make(chan struct{}, workers),
		inflight: make(map[string]*render),
		log:      log.With().Str("component", "audiocache").Logger(),
	}
}

// Key returns the artifact key for a message checksum.
func Key(msgChkSum string) string { return msgChkSum + ".wav" }

// Ready reports whether a playable artifact exists for the checksum.
func (s *Synthesizer) Ready(msgChkSum string) bool {
	path := s.store.LocalPath(Key(msgChkSum))
	return path != "" && ValidWAV(path)
}

// Render makes sure an artifact exists for the message, synthesizing one
// when missing. cached=false marks the one caller whose request actually
// rendered; callers that found the artifact on disk or joined an in-flight
// rendering report cached=true. A failed join returns the renderer's error;
// the next request starts fresh.
func (s *Synthesizer) Render(ctx context.Context, message, msgChkSum string) (cached bool, err error) {
	if s.Ready(msgChkSum) {
		metrics.AudioCacheHitsTotal.Inc()
		return true, nil
	}
	metrics.AudioCacheMissesTotal.Inc()

	s.mu.Lock()
	if r, ok := s.inflight[msgChkSum]; ok {
		s.mu.Unlock()
		select {
		case <-r.done:
			return r.err == nil, r.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	r := &render{done: make(chan struct{})}
	s.inflight[msgChkSum] = r
	s.mu.Unlock()

	r.err = s.synthesize(ctx, message, msgChkSum)
	close(r.done)

	s.mu.Lock()
	delete(s.inflight, msgChkSum)
	s.mu.Unlock()

	return false, r.err
}

func (s *Synthesizer) synthesize(ctx context.Context, message, msgChkSum string) error {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	// A restart or a competing process may have produced the artifact while
	// this request waited for a slot.
	if s.Ready(msgChkSum) {
		return nil
	}

	start := time.Now()
	pcm, rate, err := s.engine.Synthesize(ctx, message)
	if err != nil {
		metrics.SynthesisTotal.WithLabelValues(s.engine.Name(), "error").Inc()
		return fmt.Errorf("synthesize with %s: %w", s.engine.Name(), err)
	}

	wav := EncodeWAV(Resample(pcm, rate, TargetRate), TargetRate)
	if err := s.store.Save(ctx, Key(msgChkSum), wav, "audio/wav"); err != nil {
		metrics.SynthesisTotal.WithLabelValues(s.engine.Name(), "error").Inc()
		return fmt.Errorf("store artifact: %w", err)
	}
	// The inflight entry must not release until the file is validly present.
	if !s.Ready(msgChkSum) {
		metrics.SynthesisTotal.WithLabelValues(s.engine.Name(), "error").Inc()
		return fmt.Errorf("artifact %s invalid after write", Key(msgChkSum))
	}

	metrics.SynthesisTotal.WithLabelValues(s.engine.Name(), "ok").Inc()
	metrics.SynthesisDuration.WithLabelValues(s.engine.Name()).Observe(time.Since(start).Seconds())
	s.log.Info().
		Str("msg_chk_sum", msgChkSum).
		Str("engine", s.engine.Name()).
		Int("bytes", len(wav)).
		Dur("took", time.Since(start)).
		Msg("audio artifact rendered")
	return nil
}
