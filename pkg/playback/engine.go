// Package playback turns asynchronously-arriving compressed audio chunks
// into sample-accurate scheduled output.
//
// The engine guarantees that buffers begin sounding in chunk arrival
// order even when decode completion order differs, that a superseded
// session never reaches the output device, and that exactly one
// playback-ended event fires once the backend has signaled the end of a
// session and every accepted chunk has resolved.
//
// One mutex guards all engine state. The only suspension point is the
// decode itself, which runs on a single worker goroutine draining a
// bounded queue — the ordering guarantee is structural, not a matter of
// call discipline.
package playback

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

// Config holds engine tuning parameters.
type Config struct {
	// PresessionBuffer is the maximum number of chunks held while no
	// session is current. Overflow drops the oldest chunk.
	// Default: 64
	PresessionBuffer int `json:"presession_buffer"`

	// QueueSize is the decode queue depth. A full queue drops the
	// incoming chunk rather than blocking the submitter.
	// Default: 64
	QueueSize int `json:"queue_size"`

	// DeviceRetryInterval is how often to retry acquiring the output
	// device after a failed start.
	// Default: 2s
	DeviceRetryInterval time.Duration `json:"device_retry_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PresessionBuffer:    64,
		QueueSize:           64,
		DeviceRetryInterval: 2 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.PresessionBuffer <= 0 {
		return fmt.Errorf("presession_buffer must be positive, got %d", c.PresessionBuffer)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.DeviceRetryInterval <= 0 {
		return fmt.Errorf("device_retry_interval must be positive, got %v", c.DeviceRetryInterval)
	}
	return nil
}

// Engine is the playback core. It owns the current session identity, the
// decode pipeline and the playback timeline.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	out    audioio.Output
	dec    codec.Decoder
	coord  *turn.Coordinator

	mu          sync.Mutex
	closed      bool
	outputReady bool
	retrying    bool
	sess        *session
	arrival     uint64
	presession  *presessionBuffer
	sched       scheduler

	jobs   chan decodeJob
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Callbacks
	onStarted     func(SessionID)
	onEnded       func(EndSummary)
	onDecodeError func(arrivalIndex uint64, err error)

	// Stats
	chunksAccepted atomic.Int64
	chunksPlayed   atomic.Int64
	chunksStale    atomic.Int64
	decodeFailures atomic.Int64
	queueDrops     atomic.Int64
}

// NewEngine creates a playback engine. The turn coordinator may be nil
// when no capture path shares the process.
func NewEngine(cfg Config, out audioio.Output, dec codec.Decoder, coord *turn.Coordinator, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("playback: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "playback")

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		out:        out,
		dec:        dec,
		coord:      coord,
		presession: newPresessionBuffer(cfg.PresessionBuffer),
		sched:      scheduler{out: out, logger: logger},
		jobs:       make(chan decodeJob, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}

	e.wg.Add(1)
	go e.decodeLoop()

	return e, nil
}

// SessionOption configures a session at start time.
type SessionOption func(*session)

// WithGreeting marks the session as a greeting turn: while it plays, the
// shared mode is Greeting instead of Playing.
func WithGreeting() SessionOption {
	return func(s *session) {
		s.greeting = true
	}
}

// StartSession issues a new session token, hard-stops any still-sounding
// output from the previous session, resets the playback cursor to the
// current clock, and drains the pre-session buffer into the pipeline in
// original arrival order.
//
// StartSession never fails: if the output device is unavailable it keeps
// retrying in the background and audio degrades to a silent drop until
// the device appears.
func (e *Engine) StartSession(opts ...SessionOption) SessionID {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return NilSession
	}

	e.ensureOutputLocked()
	e.out.StopAll()

	sess := &session{
		id:        newSessionID(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(sess)
	}
	sess.startClock = e.out.Clock()

	e.sess = sess
	e.arrival = 0
	e.sched.reset(sess.startClock)

	drained := e.presession.drain()
	for _, payload := range drained {
		e.acceptLocked(payload)
	}

	mode := turn.ModePlaying
	if sess.greeting {
		mode = turn.ModeGreeting
	}
	coord := e.coord
	sid := sess.id
	e.mu.Unlock()

	if coord != nil {
		coord.Set(mode)
	}

	e.logger.Info("session started",
		"session", sid.String(),
		"greeting", mode == turn.ModeGreeting,
		"drained", len(drained),
	)

	return sid
}

// EndSession marks the current session's end signal. It stops nothing;
// playback finishes naturally and the completion event fires once every
// accepted chunk has resolved.
func (e *Engine) EndSession() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	e.sess.endSignaled = true
	sid := e.sess.id
	emit := e.checkCompletionLocked()
	e.mu.Unlock()

	e.logger.Debug("session end signaled", "session", sid.String())

	if emit != nil {
		emit()
	}
	return nil
}

// Cancel invalidates the current session token immediately, stops all
// sounding buffers at the device and discards the pre-session buffer.
// Decodes still in flight surface later as stale results and are dropped.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.out.StopAll()
	var sid SessionID
	had := e.sess != nil
	if had {
		sid = e.sess.id
	}
	e.sess = nil
	e.presession.clear()
	coord := e.coord
	e.mu.Unlock()

	if coord != nil {
		coord.Set(turn.ModeIdle)
	}

	if had {
		e.logger.Info("session cancelled", "session", sid.String())
	}
}

// Submit hands one opaque compressed payload to the pipeline. If no
// session is current the payload is held in the pre-session buffer until
// the next StartSession. A full decode queue drops the chunk and returns
// ErrQueueFull; playback continues with the next one.
func (e *Engine) Submit(payload []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	if e.sess == nil {
		dropped := e.presession.add(payload)
		buffered := e.presession.len()
		e.mu.Unlock()
		if dropped {
			e.logger.Warn("pre-session buffer full, dropped oldest chunk")
		}
		e.logger.Debug("buffered pre-session chunk", "buffered", buffered)
		return nil
	}

	err := e.acceptLocked(payload)
	emit := e.checkCompletionLocked()
	e.mu.Unlock()

	if emit != nil {
		emit()
	}
	return err
}

// acceptLocked assigns the next arrival index and enqueues the chunk for
// decode. The pending count is incremented before the decode begins, so
// an end signal can never be mistaken for completion while a decode for
// an accepted chunk is still outstanding.
func (e *Engine) acceptLocked(payload []byte) error {
	idx := e.arrival
	e.arrival++
	e.sess.pending++
	e.chunksAccepted.Add(1)

	job := decodeJob{
		payload: payload,
		index:   idx,
		sid:     e.sess.id,
	}

	select {
	case e.jobs <- job:
		return nil
	default:
		// Queue full: degrade to a dropped chunk, never block the submitter.
		e.sess.pending--
		e.queueDrops.Add(1)
		e.logger.Warn("decode queue full, dropping chunk", "arrival_index", idx)
		return ErrQueueFull
	}
}

// checkCompletionLocked recognizes session completion: end signaled,
// nothing pending, session still current. It returns the deferred
// emission to run outside the lock, or nil.
func (e *Engine) checkCompletionLocked() func() {
	s := e.sess
	if s == nil || s.completed || !s.endSignaled || s.pending != 0 {
		return nil
	}
	s.completed = true

	summary := EndSummary{
		Session:     s.id,
		Duration:    e.sched.cursor - s.startClock,
		DriftResets: e.sched.driftResets,
	}
	fn := e.onEnded
	coord := e.coord

	return func() {
		e.logger.Info("playback ended",
			"session", summary.Session.String(),
			"duration_ms", summary.Duration.Milliseconds(),
			"drift_resets", summary.DriftResets,
		)
		if coord != nil {
			coord.Set(turn.ModeIdle)
		}
		if fn != nil {
			fn(summary)
		}
	}
}

// onBufferDone fires when a scheduled buffer finishes sounding. Buffers
// from superseded sessions are ignored; the device drops their callbacks
// on StopAll, but a completion racing a cancel can still surface here.
func (e *Engine) onBufferDone(sid SessionID) {
	e.mu.Lock()
	s := e.sess
	if s == nil || s.id != sid {
		e.mu.Unlock()
		return
	}
	s.pending--
	e.chunksPlayed.Add(1)
	emit := e.checkCompletionLocked()
	e.mu.Unlock()

	if emit != nil {
		emit()
	}
}

// ensureOutputLocked starts the output device, retrying in the background
// on failure. Device trouble is never surfaced to the caller.
func (e *Engine) ensureOutputLocked() {
	if e.outputReady {
		return
	}

	if err := e.out.Start(context.Background()); err != nil {
		e.logger.Error("output device unavailable, retrying in background", "error", err)
		if !e.retrying {
			e.retrying = true
			go e.retryOutput()
		}
		return
	}

	e.outputReady = true
}

func (e *Engine) retryOutput() {
	ticker := time.NewTicker(e.cfg.DeviceRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.closed {
				e.mu.Unlock()
				return
			}
			err := e.out.Start(context.Background())
			if err == nil {
				e.outputReady = true
				e.retrying = false
				e.mu.Unlock()
				e.logger.Info("output device acquired")
				return
			}
			e.mu.Unlock()
			e.logger.Debug("output device still unavailable", "error", err)
		}
	}
}

// Clock returns the current output clock position. External collaborators
// (e.g. a visual renderer) use this to stay locked to playback time.
func (e *Engine) Clock() time.Duration {
	return e.out.Clock()
}

// Headroom returns how far the scheduler is ahead of the output clock.
func (e *Engine) Headroom() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return 0
	}
	return e.sched.headroom()
}

// CurrentSession returns the current session ID and whether one exists.
func (e *Engine) CurrentSession() (SessionID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return NilSession, false
	}
	return e.sess.id, true
}

// Pending returns the number of accepted chunks not yet resolved.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return 0
	}
	return e.sess.pending
}

// Close shuts the engine down. In-flight decodes finish and are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stopCh)
	close(e.jobs)
	e.out.StopAll()
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Stats contains engine statistics.
type Stats struct {
	// ChunksAccepted is the total number of chunks accepted for decode.
	ChunksAccepted int64 `json:"chunks_accepted"`

	// ChunksPlayed is the number of chunks that finished sounding.
	ChunksPlayed int64 `json:"chunks_played"`

	// ChunksStale is the number of decodes discarded for a superseded session.
	ChunksStale int64 `json:"chunks_stale"`

	// DecodeFailures is the number of malformed chunks dropped.
	DecodeFailures int64 `json:"decode_failures"`

	// QueueDrops is the number of chunks rejected by a full decode queue.
	QueueDrops int64 `json:"queue_drops"`

	// DriftResets is the lifetime count of cursor resyncs.
	DriftResets int64 `json:"drift_resets"`

	// Pending is the current session's outstanding chunk count.
	Pending int `json:"pending"`

	// SessionActive indicates whether a session is current.
	SessionActive bool `json:"session_active"`
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pending := 0
	active := e.sess != nil
	if active {
		pending = e.sess.pending
	}
	drift := e.sched.totalDrift
	e.mu.Unlock()

	return Stats{
		ChunksAccepted: e.chunksAccepted.Load(),
		ChunksPlayed:   e.chunksPlayed.Load(),
		ChunksStale:    e.chunksStale.Load(),
		DecodeFailures: e.decodeFailures.Load(),
		QueueDrops:     e.queueDrops.Load(),
		DriftResets:    drift,
		Pending:        pending,
		SessionActive:  active,
	}
}
