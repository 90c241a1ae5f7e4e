package audiocache

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// PBX playback format. Asterisk's WAV driver wants 8 kHz mono 16-bit PCM;
// every engine's output is normalized to this before it reaches the store.
const (
	TargetRate     = 8000
	targetChannels = 1
	sampleBytes    = 2
)

const riffHeaderLen = 44

// ValidWAV reports whether path holds a playable artifact: the file exists,
// is non-empty, and starts with a RIFF header. Half-written artifacts never
// appear because the store writes temp+rename.
func ValidWAV(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, riffHeaderLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return string(header[:4]) == "RIFF"
}

// EncodeWAV wraps 16-bit PCM frames in a canonical RIFF header.
func EncodeWAV(pcm []byte, rate int) []byte {
	dataLen := len(pcm)
	out := make([]byte, riffHeaderLen+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(out[22:24], targetChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(rate*targetChannels*sampleBytes))
	binary.LittleEndian.PutUint16(out[32:34], targetChannels*sampleBytes)
	binary.LittleEndian.PutUint16(out[34:36], 8*sampleBytes)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	copy(out[riffHeaderLen:], pcm)

	return out
}

// DecodeWAV extracts 16-bit PCM frames, the sample rate and channel count
// from a RIFF payload, walking chunks until it finds fmt and data.
func DecodeWAV(data []byte) (pcm []byte, rate, channels int, err error) {
	if len(data) < riffHeaderLen || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var bitsPerSample int
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too short: %d bytes", chunkLen)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported WAV format tag %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		pos = body + chunkLen + chunkLen%2
	}

	if rate == 0 || channels == 0 {
		return nil, 0, 0, fmt.Errorf("missing fmt chunk")
	}
	if bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported sample width %d bits, want 16", bitsPerSample)
	}
	if pcm == nil {
		return nil, 0, 0, fmt.Errorf("missing data chunk")
	}
	return pcm, rate, channels, nil
}

// Resample converts 16-bit mono PCM between rates by linear interpolation.
func Resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	src := bytesToSamples(pcm)
	if len(src) == 0 {
		return nil
	}

	n := int(math.Round(float64(len(src)) * float64(to) / float64(from)))
	if n < 1 {
		n = 1
	}
	dst := make([]int16, n)
	if n == 1 {
		dst[0] = src[0]
		return samplesToBytes(dst)
	}

	step := float64(len(src)-1) / float64(n-1)
	for i := range dst {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(src)-1 {
			dst[i] = src[len(src)-1]
			continue
		}
		frac := pos - float64(j)
		v := float64(src[j])*(1-frac) + float64(src[j+1])*frac
		dst[i] = int16(math.Round(v))
	}
	return samplesToBytes(dst)
}

// DownmixStereo averages interleaved stereo frames into mono. Channel
// counts above two keep only the first channel.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	src := bytesToSamples(pcm)
	frames := len(src) / channels
	dst := make([]int16, frames)
	for i := 0; i < frames; i++ {
		if channels == 2 {
			dst[i] = int16((int32(src[2*i]) + int32(src[2*i+1])) / 2)
		} else {
			dst[i] = src[i*channels]
		}
	}
	return samplesToBytes(dst)
}

func bytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/sampleBytes)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
	}
	return out
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*sampleBytes)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(s))
	}
	return out
}
