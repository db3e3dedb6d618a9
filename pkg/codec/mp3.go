package codec

import (
	"bytes"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// MP3Decoder decodes independently-decodable MP3 payloads.
// Each payload must be a self-contained MP3 stream; go-mp3 always emits
// 16-bit stereo at the stream's sample rate, so output is downmixed to mono.
type MP3Decoder struct{}

// NewMP3Decoder creates an MP3 decoder.
func NewMP3Decoder() *MP3Decoder {
	return &MP3Decoder{}
}

// Decode converts an MP3 payload into a mono PCM16 chunk.
func (d *MP3Decoder) Decode(payload []byte) (audioio.AudioChunk, error) {
	if len(payload) == 0 {
		return audioio.AudioChunk{}, ErrEmptyPayload
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return audioio.AudioChunk{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return audioio.AudioChunk{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if len(pcm) == 0 {
		return audioio.AudioChunk{}, fmt.Errorf("%w: no audio frames", ErrDecodeFailed)
	}

	// go-mp3 output is interleaved 16-bit stereo.
	stereo := audioio.BytesToSamples(pcm)

	return audioio.AudioChunk{
		Samples:    audioio.StereoToMono(stereo),
		SampleRate: dec.SampleRate(),
		Channels:   1,
	}, nil
}

// Name returns "mp3".
func (d *MP3Decoder) Name() string {
	return "mp3"
}
