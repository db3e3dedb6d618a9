package playback

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
	"github.com/voicelink-ai/voicelink/pkg/codec"
)

const testChunkDuration = 40 * time.Millisecond

// fakeDecoder decodes the payload name into a fixed-length silent chunk.
// Per-name delays simulate uneven decode latency; names starting with
// "bad" fail. A non-nil block channel makes every decode wait until the
// test releases it.
type fakeDecoder struct {
	rate  int
	delay map[string]time.Duration
	block chan struct{}

	started chan struct{}

	mu    sync.Mutex
	calls []string
}

func (d *fakeDecoder) Decode(payload []byte) (audioio.AudioChunk, error) {
	name := string(payload)

	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()

	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.block != nil {
		<-d.block
	}
	if dl := d.delay[name]; dl > 0 {
		time.Sleep(dl)
	}

	if strings.HasPrefix(name, "bad") {
		return audioio.AudioChunk{}, codec.ErrDecodeFailed
	}

	n := int(testChunkDuration.Seconds() * float64(d.rate))
	return audioio.AudioChunk{
		Samples:    make([]int16, n),
		SampleRate: d.rate,
		Channels:   1,
	}, nil
}

func (d *fakeDecoder) Name() string { return "fake" }

func (d *fakeDecoder) decoded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg Config, dec *fakeDecoder) (*Engine, *audioio.MockOutput) {
	t.Helper()

	outCfg := audioio.DefaultConfig()
	outCfg.Backend = audioio.BackendMock
	out := audioio.NewMockOutput(outCfg, quietLogger())

	e, err := NewEngine(cfg, out, dec, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	return e, out
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOrderedSchedulingUnderVaryingDecodeLatency(t *testing.T) {
	dec := &fakeDecoder{
		rate: 24000,
		delay: map[string]time.Duration{
			"c0": 30 * time.Millisecond, // slowest decode arrives first
			"c2": 10 * time.Millisecond,
		},
	}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	e.StartSession()
	for _, name := range []string{"c0", "c1", "c2", "c3"} {
		if err := e.Submit([]byte(name)); err != nil {
			t.Fatalf("Submit(%s) failed: %v", name, err)
		}
	}

	waitFor(t, time.Second, "4 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 4
	})

	recs := out.Scheduled()
	if recs[0].At != 0 {
		t.Errorf("first buffer at %v, want 0", recs[0].At)
	}
	for i := 1; i < len(recs); i++ {
		wantAt := recs[i-1].At + recs[i-1].Duration
		if recs[i].At != wantAt {
			t.Errorf("buffer %d at %v, want %v (gapless, in arrival order)", i, recs[i].At, wantAt)
		}
	}

	got := dec.decoded()
	for i, name := range []string{"c0", "c1", "c2", "c3"} {
		if got[i] != name {
			t.Errorf("decode order[%d] = %s, want %s", i, got[i], name)
		}
	}
}

func TestPresessionBufferDrainsOnStart(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	e.Submit([]byte("early0"))
	e.Submit([]byte("early1"))

	if n := len(out.Scheduled()); n != 0 {
		t.Fatalf("scheduled %d buffers before session start, want 0", n)
	}

	e.StartSession()

	waitFor(t, time.Second, "2 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 2
	})

	recs := out.Scheduled()
	if recs[0].At != 0 || recs[1].At != testChunkDuration {
		t.Errorf("buffers at %v, %v; want 0, %v", recs[0].At, recs[1].At, testChunkDuration)
	}
}

func TestPresessionBufferOverflowDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PresessionBuffer = 2

	dec := &fakeDecoder{rate: 24000}
	e, out := newTestEngine(t, cfg, dec)

	e.Submit([]byte("c0"))
	e.Submit([]byte("c1"))
	e.Submit([]byte("c2")) // evicts c0

	e.StartSession()

	waitFor(t, time.Second, "2 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 2
	})

	got := dec.decoded()
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("decoded %v, want [c1 c2]", got)
	}
}

func TestCompletionWaitsForSoundingBuffers(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	ended := make(chan EndSummary, 1)
	e.OnPlaybackEnded(func(s EndSummary) { ended <- s })

	sid := e.StartSession()
	e.Submit([]byte("c0"))
	e.Submit([]byte("c1"))
	if err := e.EndSession(); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	waitFor(t, time.Second, "2 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 2
	})

	// Both chunks are decoded and scheduled but still sounding; the
	// session must not be considered complete yet.
	select {
	case s := <-ended:
		t.Fatalf("playback ended early: %+v", s)
	case <-time.After(20 * time.Millisecond):
	}

	out.AdvanceTo(time.Second)

	select {
	case s := <-ended:
		if s.Session != sid {
			t.Errorf("ended session %s, want %s", s.Session, sid)
		}
		if want := 2 * testChunkDuration; s.Duration != want {
			t.Errorf("ended duration %v, want %v", s.Duration, want)
		}
		if s.DriftResets != 0 {
			t.Errorf("drift resets %d, want 0", s.DriftResets)
		}
	case <-time.After(time.Second):
		t.Fatal("playback never ended")
	}
}

func TestCompletionOnEmptySession(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, _ := newTestEngine(t, DefaultConfig(), dec)

	ended := make(chan EndSummary, 1)
	e.OnPlaybackEnded(func(s EndSummary) { ended <- s })

	e.StartSession()
	if err := e.EndSession(); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	select {
	case s := <-ended:
		if s.Duration != 0 {
			t.Errorf("empty session duration %v, want 0", s.Duration)
		}
	case <-time.After(time.Second):
		t.Fatal("empty session never completed")
	}
}

func TestCancelDiscardsInFlightDecode(t *testing.T) {
	dec := &fakeDecoder{
		rate:  24000,
		delay: map[string]time.Duration{"slow": 50 * time.Millisecond},
	}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	ended := make(chan EndSummary, 1)
	e.OnPlaybackEnded(func(s EndSummary) { ended <- s })

	e.StartSession()
	e.Submit([]byte("slow"))
	e.Cancel()

	waitFor(t, time.Second, "stale decode discard", func() bool {
		return e.Stats().ChunksStale == 1
	})

	if n := len(out.Scheduled()); n != 0 {
		t.Errorf("scheduled %d buffers after cancel, want 0", n)
	}
	select {
	case s := <-ended:
		t.Fatalf("cancelled session fired playback-ended: %+v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewSessionSupersedesOld(t *testing.T) {
	dec := &fakeDecoder{
		rate:  24000,
		delay: map[string]time.Duration{"old": 50 * time.Millisecond},
	}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	ended := make(chan EndSummary, 2)
	e.OnPlaybackEnded(func(s EndSummary) { ended <- s })

	e.StartSession()
	e.Submit([]byte("old"))

	newSid := e.StartSession()
	e.Submit([]byte("new"))
	e.EndSession()

	waitFor(t, time.Second, "stale old decode", func() bool {
		return e.Stats().ChunksStale == 1
	})
	waitFor(t, time.Second, "new chunk scheduled", func() bool {
		return len(out.Scheduled()) == 1
	})

	out.AdvanceTo(time.Second)

	select {
	case s := <-ended:
		if s.Session != newSid {
			t.Errorf("ended session %s, want %s", s.Session, newSid)
		}
	case <-time.After(time.Second):
		t.Fatal("new session never completed")
	}

	select {
	case s := <-ended:
		t.Fatalf("extra playback-ended event: %+v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDecodeErrorSkipsChunk(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	ended := make(chan EndSummary, 1)
	e.OnPlaybackEnded(func(s EndSummary) { ended <- s })

	type decodeErr struct {
		index uint64
		err   error
	}
	errs := make(chan decodeErr, 1)
	e.OnDecodeError(func(idx uint64, err error) { errs <- decodeErr{idx, err} })

	e.StartSession()
	e.Submit([]byte("c0"))
	e.Submit([]byte("bad1"))
	e.Submit([]byte("c2"))
	e.EndSession()

	waitFor(t, time.Second, "2 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 2
	})

	select {
	case de := <-errs:
		if de.index != 1 {
			t.Errorf("decode error at index %d, want 1", de.index)
		}
	case <-time.After(time.Second):
		t.Fatal("decode error never reported")
	}

	out.AdvanceTo(time.Second)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("session with one bad chunk never completed")
	}

	if got := e.Stats().DecodeFailures; got != 1 {
		t.Errorf("decode failures %d, want 1", got)
	}
}

func TestCursorResyncsAfterStall(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	ended := make(chan EndSummary, 1)
	e.OnPlaybackEnded(func(s EndSummary) { ended <- s })

	e.StartSession()
	e.Submit([]byte("c0"))
	waitFor(t, time.Second, "first buffer scheduled", func() bool {
		return len(out.Scheduled()) == 1
	})

	// Producer stalls: the clock runs past the cursor.
	out.AdvanceTo(100 * time.Millisecond)

	e.Submit([]byte("c1"))
	waitFor(t, time.Second, "second buffer scheduled", func() bool {
		return len(out.Scheduled()) == 2
	})

	recs := out.Scheduled()
	if recs[1].At != 100*time.Millisecond {
		t.Errorf("post-stall buffer at %v, want 100ms (snapped to now)", recs[1].At)
	}

	// No stall between c1 and c2: no further resync.
	e.Submit([]byte("c2"))
	waitFor(t, time.Second, "third buffer scheduled", func() bool {
		return len(out.Scheduled()) == 3
	})
	recs = out.Scheduled()
	if want := 100*time.Millisecond + testChunkDuration; recs[2].At != want {
		t.Errorf("third buffer at %v, want %v", recs[2].At, want)
	}

	e.EndSession()
	out.AdvanceTo(time.Second)

	select {
	case s := <-ended:
		if s.DriftResets != 1 {
			t.Errorf("drift resets %d, want exactly 1", s.DriftResets)
		}
	case <-time.After(time.Second):
		t.Fatal("session never completed")
	}
}

func TestFullDecodeQueueRejectsChunk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1

	dec := &fakeDecoder{
		rate:    24000,
		block:   make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	e, out := newTestEngine(t, cfg, dec)

	e.StartSession()

	e.Submit([]byte("c0"))
	<-dec.started // worker holds c0 in a blocked decode

	if err := e.Submit([]byte("c1")); err != nil {
		t.Fatalf("Submit(c1) failed: %v", err) // fills the queue
	}
	if err := e.Submit([]byte("c2")); err != ErrQueueFull {
		t.Fatalf("Submit(c2) = %v, want ErrQueueFull", err)
	}

	close(dec.block)
	waitFor(t, time.Second, "2 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 2
	})

	if got := e.Stats().QueueDrops; got != 1 {
		t.Errorf("queue drops %d, want 1", got)
	}
}

func TestPlaybackStartedFiresOncePerSession(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, out := newTestEngine(t, DefaultConfig(), dec)

	started := make(chan SessionID, 4)
	e.OnPlaybackStarted(func(sid SessionID) { started <- sid })

	sid := e.StartSession()
	e.Submit([]byte("c0"))
	e.Submit([]byte("c1"))

	waitFor(t, time.Second, "2 scheduled buffers", func() bool {
		return len(out.Scheduled()) == 2
	})

	select {
	case got := <-started:
		if got != sid {
			t.Errorf("started session %s, want %s", got, sid)
		}
	case <-time.After(time.Second):
		t.Fatal("playback-started never fired")
	}

	select {
	case <-started:
		t.Fatal("playback-started fired more than once")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	dec := &fakeDecoder{rate: 24000}
	e, _ := newTestEngine(t, DefaultConfig(), dec)

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Submit([]byte("c0")); err != ErrEngineClosed {
		t.Errorf("Submit after close = %v, want ErrEngineClosed", err)
	}
	if err := e.EndSession(); err != ErrEngineClosed {
		t.Errorf("EndSession after close = %v, want ErrEngineClosed", err)
	}
}
