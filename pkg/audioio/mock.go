package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave), and also accepts
// chunks pushed directly via Push.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan AudioChunk, 10),
		stopCh:    make(chan struct{}),
		frequency: 0, // Silence by default
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)

	go m.generateLoop(ctx)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			select {
			case m.streamCh <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				// Buffer full, drop chunk (overrun)
				m.logger.Debug("mock source: buffer full, dropping chunk")
			}
		}
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]int16, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		// Generate sine wave
		for i := 0; i < bufferSize; i++ {
			sample := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			sampleInt := int16(sample * 32767)

			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sampleInt
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}
	// else: samples are already zero (silence)

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Push injects a chunk into the stream, bypassing the generator.
func (m *MockSource) Push(chunk AudioChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	select {
	case m.streamCh <- chunk:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
	default:
		m.logger.Debug("mock source: buffer full, dropping pushed chunk")
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)
	close(m.streamCh)

	m.logger.Info("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-m.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    0,
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// ScheduleRecord describes one buffer accepted by a MockOutput.
// It is retained for test inspection.
type ScheduleRecord struct {
	// At is the effective start position on the playback clock.
	At time.Duration

	// Duration is the buffer duration.
	Duration time.Duration
}

type mockBuffer struct {
	start time.Duration
	end   time.Duration
	done  func()
}

// MockOutput is a mock scheduled-playback output for testing.
// Its clock does not advance on its own: tests drive it with AdvanceTo or
// Advance, which fire done callbacks for every buffer whose end position
// the clock has passed. WithRealtimeClock attaches a wall-clock driver
// instead, for interactive use without audio hardware.
type MockOutput struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	closed    bool
	realtime  bool
	startWall time.Time
	stopCh    chan struct{}
	clock     time.Duration
	pending   []*mockBuffer
	history   []ScheduleRecord

	// Stats
	buffersScheduled atomic.Int64
	buffersCompleted atomic.Int64
	buffersDropped   atomic.Int64
}

// MockOutputOption configures a MockOutput.
type MockOutputOption func(*MockOutput)

// WithRealtimeClock makes the mock clock follow wall time after Start.
func WithRealtimeClock() MockOutputOption {
	return func(m *MockOutput) {
		m.realtime = true
	}
}

// NewMockOutput creates a new mock audio output.
func NewMockOutput(cfg Config, logger *slog.Logger, opts ...MockOutputOption) *MockOutput {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockOutput{
		cfg:    cfg,
		logger: logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins accepting buffers.
func (m *MockOutput) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})

	if m.realtime {
		m.startWall = time.Now()
		go m.wallClockLoop(ctx, m.stopCh)
	}

	m.logger.Info("mock audio output started", "realtime", m.realtime)

	return nil
}

func (m *MockOutput) wallClockLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.AdvanceTo(time.Since(m.startWall))
		}
	}
}

// Stop halts rendering. Pending buffers are retained.
func (m *MockOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}

	m.logger.Info("mock audio output stopped")

	return nil
}

// Clock returns the current playback clock position.
func (m *MockOutput) Clock() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

// PlayAt schedules a buffer. Positions in the past start at the current clock.
func (m *MockOutput) PlayAt(chunk AudioChunk, at time.Duration, done func()) error {
	m.mu.Lock()

	if m.closed || !m.running {
		m.mu.Unlock()
		return io.ErrClosedPipe
	}

	start := at
	if start < m.clock {
		start = m.clock
	}

	buf := &mockBuffer{
		start: start,
		end:   start + chunk.Duration(),
		done:  done,
	}

	m.pending = append(m.pending, buf)
	sort.SliceStable(m.pending, func(i, j int) bool {
		return m.pending[i].start < m.pending[j].start
	})

	m.history = append(m.history, ScheduleRecord{At: start, Duration: chunk.Duration()})
	m.buffersScheduled.Add(1)
	m.mu.Unlock()

	return nil
}

// AdvanceTo moves the clock to the given position and fires done callbacks
// for every buffer that has finished sounding by then, in schedule order.
func (m *MockOutput) AdvanceTo(t time.Duration) {
	m.mu.Lock()

	if t < m.clock {
		m.mu.Unlock()
		return
	}
	m.clock = t

	var finished []*mockBuffer
	remaining := m.pending[:0]
	for _, buf := range m.pending {
		if buf.end <= m.clock {
			finished = append(finished, buf)
		} else {
			remaining = append(remaining, buf)
		}
	}
	m.pending = remaining
	m.mu.Unlock()

	// Callbacks fire outside the lock so they may call back into the output.
	for _, buf := range finished {
		m.buffersCompleted.Add(1)
		if buf.done != nil {
			buf.done()
		}
	}
}

// Advance moves the clock forward by the given delta.
func (m *MockOutput) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.clock + d
	m.mu.Unlock()
	m.AdvanceTo(target)
}

// StopAll discards all pending buffers without firing their callbacks.
func (m *MockOutput) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffersDropped.Add(int64(len(m.pending)))
	m.pending = nil
}

// Scheduled returns the record of every buffer accepted so far.
func (m *MockOutput) Scheduled() []ScheduleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ScheduleRecord, len(m.history))
	copy(out, m.history)
	return out
}

// PendingCount returns the number of buffers not yet finished.
func (m *MockOutput) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Config returns the audio configuration.
func (m *MockOutput) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockOutput) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns output statistics.
func (m *MockOutput) Stats() OutputStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return OutputStats{
		BuffersScheduled: m.buffersScheduled.Load(),
		BuffersCompleted: m.buffersCompleted.Load(),
		BuffersDropped:   m.buffersDropped.Load(),
		Running:          running,
		Backend:          "mock",
	}
}

// Ensure MockOutput implements OutputWithStats.
var _ OutputWithStats = (*MockOutput)(nil)
