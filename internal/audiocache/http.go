package audiocache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// postWAV issues the request and decodes the WAV payload into mono PCM at
// the payload's native rate. Stereo payloads are downmixed.
func postWAV(client *http.Client, req *http.Request) (pcm []byte, rate int, err error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("tts API error (status %d): %s", resp.StatusCode, string(body))
	}

	pcm, rate, channels, err := DecodeWAV(body)
	if err != nil {
		return nil, 0, fmt.Errorf("decode WAV payload: %w", err)
	}
	return Downmix(pcm, channels), rate, nil
}

// GTTSEngine calls a gTTS sidecar: JSON in, WAV out.
type GTTSEngine struct {
	url    string
	lang   string
	client *http.Client
}

func NewGTTSEngine(url, lang string, timeout time.Duration) *GTTSEngine {
	return &GTTSEngine{url: url, lang: lang, client: &http.Client{Timeout: timeout}}
}

func (e *GTTSEngine) Name() string { return "gtts" }

func (e *GTTSEngine) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	payload, err := json.Marshal(map[string]string{"text": text, "lang": e.lang})
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return postWAV(e.client, req)
}

// MMSEngine calls a Facebook MMS TTS sidecar serving the per-language ONNX
// models: JSON in, WAV out.
type MMSEngine struct {
	url    string
	lang   string
	client *http.Client
}

func NewMMSEngine(url, lang string, timeout time.Duration) *MMSEngine {
	return &MMSEngine{url: url, lang: lang, client: &http.Client{Timeout: timeout}}
}

func (e *MMSEngine) Name() string { return "facebook-mms" }

func (e *MMSEngine) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	payload, err := json.Marshal(map[string]string{"text": text, "lang": e.lang})
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return postWAV(e.client, req)
}

// PiperEngine calls a piper HTTP server, which takes the raw text as the
// request body and answers with a WAV payload.
type PiperEngine struct {
	url    string
	client *http.Client
}

func NewPiperEngine(url string, timeout time.Duration) *PiperEngine {
	return &PiperEngine{url: url, client: &http.Client{Timeout: timeout}}
}

func (e *PiperEngine) Name() string { return "piper" }

func (e *PiperEngine) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, strings.NewReader(text))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	return postWAV(e.client, req)
}

// KokoroEngine calls a kokoro-fastapi server through its OpenAI-compatible
// /v1/audio/speech endpoint, requesting a WAV response.
type KokoroEngine struct {
	url    string
	voice  string
	client *http.Client
}

func NewKokoroEngine(url, voice string, timeout time.Duration) *KokoroEngine {
	return &KokoroEngine{url: url, voice: voice, client: &http.Client{Timeout: timeout}}
}

func (e *KokoroEngine) Name() string { return "kokoro" }

type kokoroRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (e *KokoroEngine) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	payload, err := json.Marshal(kokoroRequest{
		Model:          "kokoro",
		Input:          text,
		Voice:          e.voice,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return postWAV(e.client, req)
}
