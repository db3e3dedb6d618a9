package audioio

import (
	"context"
	"io"
	"time"
)

// Output plays audio buffers at scheduled positions on a monotonic clock.
//
// The clock starts at zero when the output is created and advances with
// real playback time. Buffers are placed at absolute clock positions; the
// output mixes nothing — callers are expected to schedule non-overlapping
// buffers.
type Output interface {
	// Start begins audio rendering.
	// It is safe to call Start multiple times.
	Start(ctx context.Context) error

	// Stop halts audio rendering. Scheduled buffers are retained.
	// It is safe to call Stop multiple times.
	Stop() error

	// Clock returns the current position of the playback clock.
	Clock() time.Duration

	// PlayAt schedules a buffer to begin sounding at the given clock
	// position. The done callback fires once, after the buffer's last
	// sample has been rendered. Buffers scheduled in the past begin
	// sounding immediately from their first sample.
	PlayAt(chunk AudioChunk, at time.Duration, done func()) error

	// StopAll discards every scheduled buffer immediately, sounding or
	// not. Done callbacks of discarded buffers never fire.
	StopAll()

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "malgo", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the output cannot be restarted.
	io.Closer
}

// OutputStats contains statistics about the audio output.
type OutputStats struct {
	// BuffersScheduled is the total number of buffers scheduled.
	BuffersScheduled int64 `json:"buffers_scheduled"`

	// BuffersCompleted is the number of buffers fully rendered.
	BuffersCompleted int64 `json:"buffers_completed"`

	// BuffersDropped is the number of buffers discarded by StopAll.
	BuffersDropped int64 `json:"buffers_dropped"`

	// Running indicates if the output is currently rendering.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// OutputWithStats extends Output with statistics.
type OutputWithStats interface {
	Output
	Stats() OutputStats
}
