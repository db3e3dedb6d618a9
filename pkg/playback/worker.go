package playback

import (
	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

// decodeJob is one chunk awaiting decode, tagged with the session it was
// accepted under and its arrival index within that session.
type decodeJob struct {
	payload []byte
	index   uint64
	sid     SessionID
}

// decodeLoop is the single decode worker. Chunks leave the queue in
// arrival order and each one is fully resolved — scheduled, dropped as
// malformed, or discarded as stale — before the next decode begins, so a
// fast decode can never leapfrog a slow earlier one.
func (e *Engine) decodeLoop() {
	defer e.wg.Done()

	for job := range e.jobs {
		chunk, err := e.dec.Decode(job.payload)
		e.resolve(job, chunk, err)
	}
}

// resolve applies one decode result under the engine lock.
func (e *Engine) resolve(job decodeJob, chunk audioio.AudioChunk, err error) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return
	}

	s := e.sess
	if s == nil || s.id != job.sid {
		// The session this chunk belonged to has been superseded. The
		// current session's bookkeeping is untouched.
		e.chunksStale.Add(1)
		e.mu.Unlock()
		e.logger.Debug("discarding stale decode result",
			"session", job.sid.String(),
			"arrival_index", job.index,
		)
		return
	}

	if err != nil {
		s.pending--
		e.decodeFailures.Add(1)
		fn := e.onDecodeError
		emit := e.checkCompletionLocked()
		e.mu.Unlock()

		e.logger.Warn("chunk decode failed, dropping",
			"arrival_index", job.index,
			"error", err,
		)
		if fn != nil {
			fn(job.index, err)
		}
		if emit != nil {
			emit()
		}
		return
	}

	sid := job.sid
	if serr := e.sched.schedule(chunk, func() { e.onBufferDone(sid) }); serr != nil {
		s.pending--
		emit := e.checkCompletionLocked()
		e.mu.Unlock()

		e.logger.Warn("output rejected chunk, dropping",
			"arrival_index", job.index,
			"error", serr,
		)
		if emit != nil {
			emit()
		}
		return
	}

	firstBuffer := !s.started
	s.started = true
	fn := e.onStarted
	e.mu.Unlock()

	if firstBuffer {
		e.logger.Debug("playback started", "session", sid.String())
		if fn != nil {
			fn(sid)
		}
	}
}
