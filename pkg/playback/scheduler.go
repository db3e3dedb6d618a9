package playback

import (
	"log/slog"
	"time"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// scheduler places decoded buffers on the playback timeline.
//
// The cursor is the clock position at which the next buffer will begin
// sounding. It is monotonically non-decreasing within a session and only
// reset when a session starts. If the cursor has fallen behind the output
// clock (the producer stalled), it snaps forward to "now" — audio is never
// scheduled into the past and never time-compressed to catch up.
//
// All methods are called with the engine lock held.
type scheduler struct {
	out    audioio.Output
	logger *slog.Logger

	cursor      time.Duration
	driftResets int   // since last reset
	totalDrift  int64 // lifetime
}

// reset positions the cursor and clears the per-session drift count.
func (s *scheduler) reset(at time.Duration) {
	s.cursor = at
	s.driftResets = 0
}

// schedule starts the buffer at the cursor and advances the cursor by the
// buffer's duration. done fires when the buffer finishes sounding.
func (s *scheduler) schedule(chunk audioio.AudioChunk, done func()) error {
	now := s.out.Clock()
	if s.cursor < now {
		drift := now - s.cursor
		s.driftResets++
		s.totalDrift++
		s.logger.Warn("playback cursor fell behind clock, resyncing",
			"drift_ms", drift.Milliseconds(),
			"resets", s.driftResets,
		)
		s.cursor = now
	}

	if err := s.out.PlayAt(chunk, s.cursor, done); err != nil {
		return err
	}

	s.cursor += chunk.Duration()
	return nil
}

// headroom returns how far the cursor is ahead of the output clock.
func (s *scheduler) headroom() time.Duration {
	h := s.cursor - s.out.Clock()
	if h < 0 {
		return 0
	}
	return h
}
