package codec

import (
	"bytes"
	"fmt"

	shine "github.com/braheezy/shine-mp3/pkg/mp3"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// mp3BlockSamples is the MPEG Layer III granule size per channel.
const mp3BlockSamples = 1152

// MP3Encoder compresses utterances to MP3 using shine (pure Go).
// A fresh shine encoder is created per utterance so each payload is a
// self-contained stream.
type MP3Encoder struct {
	sampleRate int
	channels   int
}

// NewMP3Encoder creates an MP3 encoder for the given input format.
func NewMP3Encoder(sampleRate, channels int) *MP3Encoder {
	return &MP3Encoder{
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Encode compresses one utterance into a single MP3 payload.
// Samples at a different rate are resampled to the encoder rate first.
func (e *MP3Encoder) Encode(chunk audioio.AudioChunk) ([]byte, error) {
	if len(chunk.Samples) == 0 {
		return nil, ErrEmptyPayload
	}

	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != e.sampleRate {
		samples = audioio.Resample(samples, chunk.SampleRate, e.sampleRate)
	}

	// Shine consumes whole 1152-sample blocks per channel; pad the tail
	// with silence.
	blockSize := mp3BlockSamples * e.channels
	if rem := len(samples) % blockSize; rem != 0 {
		padded := make([]int16, len(samples)+blockSize-rem)
		copy(padded, samples)
		samples = padded
	}

	var buf bytes.Buffer
	enc := shine.NewEncoder(e.sampleRate, e.channels)
	if err := enc.Write(&buf, samples); err != nil {
		return nil, fmt.Errorf("codec: mp3 encode: %w", err)
	}

	return buf.Bytes(), nil
}

// Name returns "mp3".
func (e *MP3Encoder) Name() string {
	return "mp3"
}
