package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// ErrDeviceUnavailable indicates the audio device could not be acquired.
var ErrDeviceUnavailable = errors.New("audioio: device unavailable")

// malgoBuffer is one scheduled buffer on the output timeline.
type malgoBuffer struct {
	samples    []int16
	startFrame int64
	done       func()
}

// MalgoOutput renders scheduled buffers through a miniaudio playback device.
// The playback clock is derived from the number of frames the device has
// rendered, so it advances exactly with audible time.
type MalgoOutput struct {
	cfg    Config
	logger *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu          sync.Mutex
	running     bool
	closed      bool
	clockFrames int64
	pending     []*malgoBuffer

	// Stats
	buffersScheduled atomic.Int64
	buffersCompleted atomic.Int64
	buffersDropped   atomic.Int64
}

// NewMalgoOutput creates a playback output on the configured device.
// Returns ErrDeviceUnavailable (wrapped) when no device can be acquired.
func NewMalgoOutput(cfg Config, logger *slog.Logger) (*MalgoOutput, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	o := &MalgoOutput{
		cfg:    cfg,
		logger: logger,
		ctx:    mctx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if cfg.Device != "" {
		id, err := findDeviceID(mctx, malgo.Playback, cfg.Device)
		if err != nil {
			mctx.Uninit()
			mctx.Free()
			return nil, err
		}
		deviceConfig.Playback.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: o.onFrames,
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init playback device: %v", ErrDeviceUnavailable, err)
	}

	o.device = device

	logger.Info("malgo audio output created",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"device", cfg.Device,
	)

	return o, nil
}

// onFrames is the device render callback. It fills the output with samples
// from every scheduled buffer overlapping the rendered frame range and
// advances the clock.
func (o *MalgoOutput) onFrames(out, _ []byte, frameCount uint32) {
	for i := range out {
		out[i] = 0
	}

	o.mu.Lock()
	base := o.clockFrames
	n := int64(frameCount)
	ch := int64(o.cfg.Channels)

	var finished []func()
	remaining := o.pending[:0]
	for _, buf := range o.pending {
		bufFrames := int64(len(buf.samples)) / ch
		start := buf.startFrame
		end := start + bufFrames

		if start >= base+n {
			remaining = append(remaining, buf)
			continue
		}

		from := start
		if from < base {
			from = base
		}
		to := end
		if to > base+n {
			to = base + n
		}

		for f := from; f < to; f++ {
			srcIdx := (f - start) * ch
			dstIdx := (f - base) * ch
			for c := int64(0); c < ch; c++ {
				s := buf.samples[srcIdx+c]
				out[(dstIdx+c)*2] = byte(s)
				out[(dstIdx+c)*2+1] = byte(s >> 8)
			}
		}

		if end <= base+n {
			finished = append(finished, buf.done)
			o.buffersCompleted.Add(1)
		} else {
			remaining = append(remaining, buf)
		}
	}
	o.pending = remaining
	o.clockFrames += n
	o.mu.Unlock()

	for _, done := range finished {
		if done != nil {
			done()
		}
	}
}

// Start begins device rendering.
func (o *MalgoOutput) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return io.ErrClosedPipe
	}
	if o.running {
		return nil
	}

	if err := o.device.Start(); err != nil {
		return fmt.Errorf("%w: start playback device: %v", ErrDeviceUnavailable, err)
	}

	o.running = true
	o.logger.Info("malgo audio output started")

	return nil
}

// Stop halts device rendering. Scheduled buffers are retained.
func (o *MalgoOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}

	o.running = false
	if err := o.device.Stop(); err != nil {
		return fmt.Errorf("audioio: stop playback device: %w", err)
	}

	o.logger.Info("malgo audio output stopped")

	return nil
}

// Clock returns the playback clock position.
func (o *MalgoOutput) Clock() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return framesToDuration(o.clockFrames, o.cfg.SampleRate)
}

// PlayAt schedules a buffer at the given clock position.
// Chunks at a different sample rate are resampled to the device rate.
func (o *MalgoOutput) PlayAt(chunk AudioChunk, at time.Duration, done func()) error {
	samples := chunk.Samples
	if chunk.SampleRate != o.cfg.SampleRate {
		samples = Resample(samples, chunk.SampleRate, o.cfg.SampleRate)
	}
	if chunk.Channels == 2 && o.cfg.Channels == 1 {
		samples = StereoToMono(samples)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || !o.running {
		return io.ErrClosedPipe
	}

	startFrame := durationToFrames(at, o.cfg.SampleRate)
	if startFrame < o.clockFrames {
		startFrame = o.clockFrames
	}

	o.pending = append(o.pending, &malgoBuffer{
		samples:    samples,
		startFrame: startFrame,
		done:       done,
	})
	sort.SliceStable(o.pending, func(i, j int) bool {
		return o.pending[i].startFrame < o.pending[j].startFrame
	})

	o.buffersScheduled.Add(1)

	return nil
}

// StopAll discards every scheduled buffer without firing its callback.
func (o *MalgoOutput) StopAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buffersDropped.Add(int64(len(o.pending)))
	o.pending = nil
}

// Config returns the audio configuration.
func (o *MalgoOutput) Config() Config {
	return o.cfg
}

// Name returns "malgo".
func (o *MalgoOutput) Name() string {
	return "malgo"
}

// Close releases the device and context.
func (o *MalgoOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.running = false
	o.pending = nil
	o.mu.Unlock()

	if o.device != nil {
		o.device.Uninit()
	}
	if o.ctx != nil {
		o.ctx.Uninit()
		o.ctx.Free()
	}

	return nil
}

// Stats returns output statistics.
func (o *MalgoOutput) Stats() OutputStats {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	return OutputStats{
		BuffersScheduled: o.buffersScheduled.Load(),
		BuffersCompleted: o.buffersCompleted.Load(),
		BuffersDropped:   o.buffersDropped.Load(),
		Running:          running,
		Backend:          "malgo",
	}
}

// Ensure MalgoOutput implements OutputWithStats.
var _ OutputWithStats = (*MalgoOutput)(nil)

// MalgoSource captures audio from a miniaudio capture device.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewMalgoSource creates a capture source on the configured device.
// Returns ErrDeviceUnavailable (wrapped) when no device can be acquired.
func NewMalgoSource(cfg Config, logger *slog.Logger) (*MalgoSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	s := &MalgoSource{
		cfg:      cfg,
		logger:   logger,
		ctx:      mctx,
		streamCh: make(chan AudioChunk, 50),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if cfg.Device != "" {
		id, err := findDeviceID(mctx, malgo.Capture, cfg.Device)
		if err != nil {
			mctx.Uninit()
			mctx.Free()
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onFrames,
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init capture device: %v", ErrDeviceUnavailable, err)
	}

	s.device = device

	logger.Info("malgo audio source created",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"device", cfg.Device,
	)

	return s, nil
}

// onFrames is the device capture callback.
func (s *MalgoSource) onFrames(_, in []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}

	chunk := AudioChunk{
		Samples:    BytesToSamples(in),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ch := s.streamCh
	s.mu.Unlock()

	select {
	case ch <- chunk:
		s.chunksRead.Add(1)
		s.samplesRead.Add(int64(len(chunk.Samples)))
	default:
		s.overruns.Add(1)
	}
}

// Start begins capture.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.streamCh = make(chan AudioChunk, 50)
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("%w: start capture device: %v", ErrDeviceUnavailable, err)
	}

	s.running = true
	s.logger.Info("malgo audio source started")

	return nil
}

// Stop halts capture.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("audioio: stop capture device: %w", err)
	}
	close(s.streamCh)

	s.logger.Info("malgo audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (s *MalgoSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *MalgoSource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Config returns the audio configuration.
func (s *MalgoSource) Config() Config {
	return s.cfg
}

// Name returns "malgo".
func (s *MalgoSource) Name() string {
	return "malgo"
}

// Close releases the device and context.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if s.device != nil {
		s.device.Uninit()
	}
	if s.ctx != nil {
		s.ctx.Uninit()
		s.ctx.Free()
	}
	if wasRunning {
		close(s.streamCh)
	}

	return nil
}

// Stats returns source statistics.
func (s *MalgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "malgo",
	}
}

// Ensure MalgoSource implements SourceWithStats.
var _ SourceWithStats = (*MalgoSource)(nil)

// findDeviceID resolves a device by substring match on its name.
func findDeviceID(mctx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(kind)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("%w: enumerate devices: %v", ErrDeviceUnavailable, err)
	}

	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info.ID, nil
		}
	}

	return malgo.DeviceID{}, fmt.Errorf("%w: no device matching %q", ErrDeviceUnavailable, name)
}

// ListDevices returns the names of available devices of the given kind.
func ListDevices(kind malgo.DeviceType) ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrDeviceUnavailable, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func framesToDuration(frames int64, sampleRate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func durationToFrames(d time.Duration, sampleRate int) int64 {
	return int64(d) * int64(sampleRate) / int64(time.Second)
}
