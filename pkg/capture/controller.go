// Package capture accumulates microphone audio into utterances.
//
// A simple energy gate decides when speech begins; a silence timeout
// decides when it ends. The controller honors the shared turn mode: while
// the client is playing, greeting, or waiting on an external analysis,
// microphone frames are observed but never buffered, so the assistant
// cannot hear itself.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
	"github.com/voicelink-ai/voicelink/pkg/codec"
	"github.com/voicelink-ai/voicelink/pkg/turn"
)

// Utterance is one finished voice capture, already compressed.
type Utterance struct {
	// Data is the MP3-encoded audio.
	Data []byte `json:"-"`

	// Duration is the captured length including trailing silence.
	Duration time.Duration `json:"duration"`

	// PeakRMS is the loudest frame energy seen during the capture.
	PeakRMS float64 `json:"peak_rms"`
}

// Controller drives voice capture from a source.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	src    audioio.Source
	coord  *turn.Coordinator
	enc    *codec.MP3Encoder

	mu        sync.Mutex
	capturing bool
	buf       []int16
	rate      int
	voiceAt   time.Time // when the utterance began
	lastVoice time.Time // last frame above threshold
	peak      float64   // loudest frame energy this utterance

	onUtterance func(Utterance)

	utterancesSent     atomic.Int64
	utterancesTooShort atomic.Int64
	framesGated        atomic.Int64
	framesProcessed    atomic.Int64
}

// NewController creates a capture controller reading from src.
func NewController(cfg Config, src audioio.Source, coord *turn.Coordinator, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	srcCfg := src.Config()
	return &Controller{
		cfg:    cfg,
		logger: logger.With("component", "capture"),
		src:    src,
		coord:  coord,
		enc:    codec.NewMP3Encoder(srcCfg.SampleRate, srcCfg.Channels),
	}, nil
}

// OnUtterance sets the callback fired with each finished utterance.
func (c *Controller) OnUtterance(fn func(Utterance)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUtterance = fn
}

// Run consumes the source until ctx is cancelled or the stream closes.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.src.Start(ctx); err != nil {
		return fmt.Errorf("capture: source start: %w", err)
	}
	defer c.src.Stop()
	stream := c.src.Stream()

	c.logger.Info("capture running",
		"source", c.src.Name(),
		"threshold", c.cfg.EnergyThreshold,
		"silence_timeout", c.cfg.SilenceTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			c.process(chunk, time.Now())
		}
	}
}

// process applies one microphone frame to the capture state machine.
// Split out from Run so tests can drive it with a synthetic clock.
func (c *Controller) process(chunk audioio.AudioChunk, now time.Time) {
	c.framesProcessed.Add(1)

	if c.coord != nil && c.coord.Protected() {
		c.framesGated.Add(1)
		c.mu.Lock()
		if c.capturing {
			// Playback started mid-capture; the partial utterance is
			// abandoned rather than sent or mixed with machine speech.
			c.resetLocked()
			c.logger.Debug("capture abandoned, mode is protected")
		}
		c.mu.Unlock()
		return
	}

	rms := audioio.CalculateRMS(chunk.Samples)

	c.mu.Lock()

	if !c.capturing {
		if rms < c.cfg.EnergyThreshold {
			c.mu.Unlock()
			return
		}
		c.capturing = true
		c.rate = chunk.SampleRate
		c.voiceAt = now
		c.lastVoice = now
		c.peak = rms
		c.buf = append(c.buf[:0], chunk.Samples...)
		coord := c.coord
		c.mu.Unlock()

		if coord != nil {
			coord.Set(turn.ModeListening)
		}
		c.logger.Debug("voice detected", "rms", rms)
		return
	}

	c.buf = append(c.buf, chunk.Samples...)
	if rms >= c.cfg.EnergyThreshold {
		c.lastVoice = now
	}
	if rms > c.peak {
		c.peak = rms
	}

	elapsed := now.Sub(c.voiceAt)
	silent := now.Sub(c.lastVoice)
	if silent >= c.cfg.SilenceTimeout || elapsed >= c.cfg.MaxUtterance {
		c.flushLocked(c.lastVoice.Sub(c.voiceAt), elapsed)
		return
	}

	c.mu.Unlock()
}

// flushLocked ends the current utterance. voiced is the span from the
// first to the last frame above the threshold; the minimum-duration
// floor applies to it, not to the silence tail. Called with the lock
// held; releases it before emitting.
func (c *Controller) flushLocked(voiced, elapsed time.Duration) {
	samples := c.buf
	rate := c.rate
	peak := c.peak
	c.resetLocked()
	coord := c.coord
	fn := c.onUtterance
	c.mu.Unlock()

	if coord != nil {
		coord.Set(turn.ModeIdle)
	}

	if voiced < c.cfg.MinUtterance {
		c.utterancesTooShort.Add(1)
		c.logger.Debug("utterance too short, discarding",
			"voiced_ms", voiced.Milliseconds(),
		)
		return
	}

	data, err := c.enc.Encode(audioio.AudioChunk{
		Samples:    samples,
		SampleRate: rate,
		Channels:   c.src.Config().Channels,
	})
	if err != nil {
		c.logger.Error("utterance encode failed", "error", err)
		return
	}

	c.utterancesSent.Add(1)
	c.logger.Info("utterance captured",
		"duration_ms", elapsed.Milliseconds(),
		"bytes", len(data),
	)

	if fn != nil {
		fn(Utterance{Data: data, Duration: elapsed, PeakRMS: peak})
	}
}

// resetLocked clears the capture state. Called with the lock held.
func (c *Controller) resetLocked() {
	c.capturing = false
	c.buf = nil
}

// Stats contains capture statistics.
type Stats struct {
	// UtterancesSent is the number of utterances emitted.
	UtterancesSent int64 `json:"utterances_sent"`

	// UtterancesTooShort is the number of captures discarded for falling
	// under the minimum duration.
	UtterancesTooShort int64 `json:"utterances_too_short"`

	// FramesGated is the number of frames observed while the mode was protected.
	FramesGated int64 `json:"frames_gated"`

	// FramesProcessed is the total number of frames seen.
	FramesProcessed int64 `json:"frames_processed"`
}

// Stats returns a snapshot of capture statistics.
func (c *Controller) Stats() Stats {
	return Stats{
		UtterancesSent:     c.utterancesSent.Load(),
		UtterancesTooShort: c.utterancesTooShort.Load(),
		FramesGated:        c.framesGated.Load(),
		FramesProcessed:    c.framesProcessed.Load(),
	}
}
