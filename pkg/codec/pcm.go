package codec

import (
	"fmt"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// PCMDecoder interprets payloads as raw little-endian PCM16 at a fixed
// rate and channel count. Useful for tests and for backends that skip
// compression entirely.
type PCMDecoder struct {
	sampleRate int
	channels   int
}

// NewPCMDecoder creates a raw PCM16 decoder.
func NewPCMDecoder(sampleRate, channels int) *PCMDecoder {
	return &PCMDecoder{
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Decode converts raw PCM16 bytes into a chunk.
func (d *PCMDecoder) Decode(payload []byte) (audioio.AudioChunk, error) {
	if len(payload) == 0 {
		return audioio.AudioChunk{}, ErrEmptyPayload
	}
	if len(payload)%2 != 0 {
		return audioio.AudioChunk{}, fmt.Errorf("%w: odd byte count %d", ErrDecodeFailed, len(payload))
	}

	return audioio.AudioChunk{
		Samples:    audioio.BytesToSamples(payload),
		SampleRate: d.sampleRate,
		Channels:   d.channels,
	}, nil
}

// Name returns "pcm16".
func (d *PCMDecoder) Name() string {
	return "pcm16"
}
