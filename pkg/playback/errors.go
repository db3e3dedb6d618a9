package playback

import "errors"

// Sentinel errors for the playback package.
var (
	// ErrEngineClosed indicates the engine has been closed.
	ErrEngineClosed = errors.New("playback: engine closed")

	// ErrNoSession indicates an operation that requires a current session.
	ErrNoSession = errors.New("playback: no current session")

	// ErrQueueFull indicates the decode queue rejected a chunk.
	ErrQueueFull = errors.New("playback: decode queue full")
)
