package audiocache

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// Polly's PCM output floor is 8 kHz for MP3 only; raw PCM supports 8000 and
// 16000 but the voices are tuned for 16 kHz, so render there and let the
// synthesizer halve it.
const pollyRate = 16000

// PollyEngine renders speech through Amazon Polly.
type PollyEngine struct {
	client *polly.Client
	voice  types.VoiceId
}

func NewPollyEngine(ctx context.Context, voice, region string) (*PollyEngine, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &PollyEngine{
		client: polly.NewFromConfig(awsCfg),
		voice:  types.VoiceId(voice),
	}, nil
}

func (e *PollyEngine) Name() string { return "aws-polly" }

func (e *PollyEngine) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	out, err := e.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatPcm,
		SampleRate:   aws.String("16000"),
		Text:         aws.String(text),
		VoiceId:      e.voice,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	pcm, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, 0, fmt.Errorf("read polly stream: %w", err)
	}
	return pcm, pollyRate, nil
}
