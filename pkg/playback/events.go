package playback

import "time"

// EndSummary describes a completed session.
type EndSummary struct {
	// Session is the session that completed.
	Session SessionID `json:"session"`

	// Duration is the total scheduled playback time of the session.
	Duration time.Duration `json:"duration"`

	// DriftResets is how many times the cursor was resynced to the clock
	// during the session.
	DriftResets int `json:"drift_resets"`
}

// OnPlaybackStarted sets the callback fired when the first buffer of a
// session is scheduled. Fired at most once per session.
func (e *Engine) OnPlaybackStarted(fn func(SessionID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStarted = fn
}

// OnPlaybackEnded sets the callback fired when a session completes: the
// end was signaled, every accepted chunk has resolved, and the session is
// still current. Fired exactly once per completed session; a cancelled or
// superseded session never fires it.
func (e *Engine) OnPlaybackEnded(fn func(EndSummary)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// OnDecodeError sets the callback fired when a chunk fails to decode.
// The chunk is dropped and playback continues with the next one.
func (e *Engine) OnDecodeError(fn func(arrivalIndex uint64, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDecodeError = fn
}
