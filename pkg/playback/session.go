package playback

import (
	"time"

	"github.com/google/uuid"
)

// SessionID is the opaque capability value identifying one
// synthesized-speech session. Every asynchronous unit of work carries the
// ID it was issued; results surfacing with a superseded ID are discarded.
type SessionID uuid.UUID

// NilSession is the zero SessionID.
var NilSession SessionID

func newSessionID() SessionID {
	return SessionID(uuid.New())
}

// String returns the canonical UUID form.
func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// session is the mutable per-session state. Exactly one session is current
// at any instant; a session is superseded, never reused.
type session struct {
	id         SessionID
	greeting   bool
	startedAt  time.Time
	startClock time.Duration // output clock when the session started

	endSignaled bool
	started     bool // playback-started emitted
	completed   bool // playback-ended emitted
	pending     int  // chunks accepted but not yet resolved
}
