package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// maxOpusFrameSamples is the largest Opus frame: 120ms at 48kHz.
const maxOpusFrameSamples = 5760

// OpusDecoder decodes single-frame Opus payloads via libopus.
type OpusDecoder struct {
	dec        *opus.Decoder
	sampleRate int
	channels   int
}

// NewOpusDecoder creates an Opus decoder producing samples at the given
// rate and channel count. Opus supports 8, 12, 16, 24 and 48 kHz.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}

	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Decode converts one Opus frame into a PCM16 chunk.
func (d *OpusDecoder) Decode(payload []byte) (audioio.AudioChunk, error) {
	if len(payload) == 0 {
		return audioio.AudioChunk{}, ErrEmptyPayload
	}

	pcm := make([]int16, maxOpusFrameSamples*d.channels)
	n, err := d.dec.Decode(payload, pcm)
	if err != nil {
		return audioio.AudioChunk{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	return audioio.AudioChunk{
		Samples:    pcm[:n*d.channels],
		SampleRate: d.sampleRate,
		Channels:   d.channels,
	}, nil
}

// Name returns "opus".
func (d *OpusDecoder) Name() string {
	return "opus"
}
