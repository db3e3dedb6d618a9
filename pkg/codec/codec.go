// Package codec converts between compressed audio payloads and raw PCM16
// sample buffers.
//
// Decoders consume one opaque payload at a time and return a complete
// audio chunk; they carry no cross-payload state except where the
// underlying format requires it (Opus). Encoding is used on the capture
// side to compress flushed utterances before they leave the process.
package codec

import (
	"errors"
	"fmt"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// Sentinel errors for the codec package.
var (
	// ErrDecodeFailed indicates a payload could not be decoded.
	ErrDecodeFailed = errors.New("codec: decode failed")

	// ErrEmptyPayload indicates a zero-length payload.
	ErrEmptyPayload = errors.New("codec: empty payload")

	// ErrUnknownFormat indicates an unrecognized format name.
	ErrUnknownFormat = errors.New("codec: unknown format")
)

// Decoder converts one compressed payload into a raw sample buffer.
type Decoder interface {
	// Decode converts payload bytes into PCM16 samples.
	// A failed decode returns an error wrapping ErrDecodeFailed.
	Decode(payload []byte) (audioio.AudioChunk, error)

	// Name returns the format name (e.g., "mp3", "opus", "pcm16").
	Name() string
}

// Encoder compresses PCM16 samples into one opaque payload.
type Encoder interface {
	// Encode compresses the samples of a single utterance.
	Encode(chunk audioio.AudioChunk) ([]byte, error)

	// Name returns the format name.
	Name() string
}

// NewDecoder returns a decoder for the named format.
// Supported formats: "mp3", "opus", "pcm16".
func NewDecoder(format string, sampleRate, channels int) (Decoder, error) {
	switch format {
	case "mp3":
		return NewMP3Decoder(), nil
	case "opus":
		return NewOpusDecoder(sampleRate, channels)
	case "pcm16", "pcm":
		return NewPCMDecoder(sampleRate, channels), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
