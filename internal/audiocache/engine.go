package audiocache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/snarg/klaxon/internal/config"
)

// Engine is the interface for text-to-speech backends. Synthesize returns
// 16-bit mono PCM at the engine's native rate; the synthesizer normalizes
// everything to TargetRate before the artifact reaches the store.
type Engine interface {
	Synthesize(ctx context.Context, text string) (pcm []byte, rate int, err error)
	Name() string // "gtts", "facebook-mms", "piper", "aws-polly", "kokoro"
}

// NewEngine builds the configured synthesis backend. timeout bounds each
// rendering request for the HTTP-backed engines.
func NewEngine(ctx context.Context, cfg config.AudioConfig, timeout time.Duration) (Engine, error) {
	switch strings.ToLower(cfg.Engine) {
	case "gtts":
		return NewGTTSEngine(cfg.GTTSURL, cfg.Language, timeout), nil
	case "facebook-mms":
		return NewMMSEngine(cfg.MMSURL, cfg.Language, timeout), nil
	case "piper":
		return NewPiperEngine(cfg.PiperURL, timeout), nil
	case "kokoro":
		return NewKokoroEngine(cfg.KokoroURL, cfg.KokoroVoice, timeout), nil
	case "aws-polly":
		return NewPollyEngine(ctx, cfg.PollyVoice, cfg.PollyRegion)
	default:
		return nil, fmt.Errorf("unsupported TTS engine %q (valid: gtts, facebook-mms, piper, aws-polly, kokoro)", cfg.Engine)
	}
}
