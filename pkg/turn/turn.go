// Package turn owns the half-duplex turn-taking state shared by the
// playback and capture paths.
//
// Exactly one Coordinator exists per client. Playback transitions the mode
// when sessions start and finish; capture only reads it. While the mode is
// protected the capture path observes frames but never buffers them, so
// playback and capture are never both producing audio.
package turn

import (
	"log/slog"
	"sync"
)

// Mode is the mutually-exclusive client state.
type Mode int

const (
	// ModeIdle means neither path is producing audio.
	ModeIdle Mode = iota

	// ModePlaying means a synthesized-speech session is sounding.
	ModePlaying

	// ModeListening means the capture path is accumulating an utterance.
	ModeListening

	// ModeGreeting means a greeting session is sounding.
	ModeGreeting

	// ModeAnalyzing means an external analysis (e.g. image processing on
	// the backend) is in progress and capture must stay quiet.
	ModeAnalyzing
)

func (m Mode) String() string {
	switch m {
	case ModePlaying:
		return "playing"
	case ModeListening:
		return "listening"
	case ModeGreeting:
		return "greeting"
	case ModeAnalyzing:
		return "analyzing"
	default:
		return "idle"
	}
}

// Protected reports whether capture must not buffer frames in this mode.
func (m Mode) Protected() bool {
	return m == ModePlaying || m == ModeGreeting || m == ModeAnalyzing
}

// Coordinator is the single owner of the shared mode.
// All writers go through Set; everything else treats the value as
// authoritative and read-only.
type Coordinator struct {
	logger *slog.Logger

	mu       sync.RWMutex
	mode     Mode
	onChange func(Mode)
}

// NewCoordinator creates a coordinator starting in ModeIdle.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger: logger.With("component", "turn"),
	}
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Protected reports whether the current mode is protected.
func (c *Coordinator) Protected() bool {
	return c.Mode().Protected()
}

// Set transitions to the given mode. Setting the current mode is a no-op.
func (c *Coordinator) Set(mode Mode) {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return
	}
	prev := c.mode
	c.mode = mode
	fn := c.onChange
	c.mu.Unlock()

	c.logger.Debug("mode changed", "from", prev.String(), "to", mode.String())

	if fn != nil {
		fn(mode)
	}
}

// OnChange sets a callback that fires after every mode transition.
func (c *Coordinator) OnChange(fn func(Mode)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}
