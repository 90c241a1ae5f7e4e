// Package audiocache renders call messages into PBX-playable WAV artifacts
// and serves them back to Asterisk. Artifacts are content-addressed by the
// message checksum, so identical messages synthesize once.
package audiocache

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/api"
)

// Service exposes the audio cache HTTP API.
type Service struct {
	synth *Synthesizer
	dir   string
	log   zerolog.Logger
}

func NewService(synth *Synthesizer, dir string, log zerolog.Logger) *Service {
	return &Service{
		synth: synth,
		dir:   dir,
		log:   log.With().Str("component", "audiocache").Logger(),
	}
}

func (s *Service) Routes(r chi.Router) {
	r.Post("/make_audio", s.makeAudio)
	r.Get("/is_audio_ready", s.isAudioReady)
	// The PBX fetches playback media from here; keys are flat checksums so
	// the file server never walks outside the artifact dir.
	r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.dir))))
}

// MakeAudioRequest arrives as a JSON body or, for dialplan curl use, as
// query-string parameters.
type MakeAudioRequest struct {
	Message   string `json:"message"`
	MsgChkSum string `json:"msg_chk_sum"`
}

// MakeAudioResponse reports whether the artifact was already cached.
type MakeAudioResponse struct {
	Status int  `json:"status"`
	Cached bool `json:"cached"`
}

func (s *Service) makeAudio(w http.ResponseWriter, r *http.Request) {
	var req MakeAudioRequest
	_ = api.DecodeJSON(r, &req)
	if req.Message == "" {
		req.Message = r.URL.Query().Get("message")
	}
	if req.MsgChkSum == "" {
		req.MsgChkSum = r.URL.Query().Get("msg_chk_sum")
	}
	if req.Message == "" || req.MsgChkSum == "" {
		api.WriteError(w, http.StatusBadRequest, "message and msg_chk_sum are required")
		return
	}

	cached, err := s.synth.Render(r.Context(), req.Message, req.MsgChkSum)
	if err != nil {
		s.log.Error().Err(err).Str("msg_chk_sum", req.MsgChkSum).Msg("audio rendering failed")
		api.WriteJSON(w, http.StatusInternalServerError, MakeAudioResponse{
			Status: http.StatusInternalServerError,
			Cached: false,
		})
		return
	}
	api.WriteJSON(w, http.StatusOK, MakeAudioResponse{Status: http.StatusOK, Cached: cached})
}

// AudioReadyResponse reports artifact existence for the monitor's poll loop.
type AudioReadyResponse struct {
	Exists bool `json:"exists"`
}

func (s *Service) isAudioReady(w http.ResponseWriter, r *http.Request) {
	msgChkSum, ok := api.RequireQuery(w, r, "msg_chk_sum")
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, AudioReadyResponse{Exists: s.synth.Ready(msgChkSum)})
}
