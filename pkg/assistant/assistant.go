// Package assistant wires the transport, playback, capture, and status
// layers into a running voice client.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voicelink-ai/voicelink/pkg/audioio"
	"github.com/voicelink-ai/voicelink/pkg/capture"
	"github.com/voicelink-ai/voicelink/pkg/codec"
	"github.com/voicelink-ai/voicelink/pkg/playback"
	"github.com/voicelink-ai/voicelink/pkg/transport"
	"github.com/voicelink-ai/voicelink/pkg/turn"
	"github.com/voicelink-ai/voicelink/pkg/web"
)

// Config holds the full client configuration.
type Config struct {
	// BackendURL is the backend WebSocket endpoint.
	BackendURL string `json:"backend_url"`

	// StatusAddr is the status API listen address. Empty disables it.
	StatusAddr string `json:"status_addr"`

	// ChunkFormat is the compressed format of incoming audio chunks.
	// Default: "mp3"
	ChunkFormat string `json:"chunk_format"`

	Output   audioio.Config  `json:"output"`
	Input    audioio.Config  `json:"input"`
	Playback playback.Config `json:"playback"`
	Capture  capture.Config  `json:"capture"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	input := audioio.DefaultConfig()
	input.SampleRate = 16000

	return Config{
		BackendURL:  "ws://localhost:8000/ws",
		StatusAddr:  ":8090",
		ChunkFormat: "mp3",
		Output:      audioio.DefaultConfig(),
		Input:       input,
		Playback:    playback.DefaultConfig(),
		Capture:     capture.DefaultConfig(),
	}
}

// Assistant is the assembled voice client.
type Assistant struct {
	cfg    Config
	logger *slog.Logger

	coord  *turn.Coordinator
	out    audioio.Output
	src    audioio.Source
	engine *playback.Engine
	mic    *capture.Controller
	client *transport.Client
	server *web.Server

	greetingNext atomic.Bool
}

// New assembles an assistant from the configuration.
func New(cfg Config, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkFormat == "" {
		cfg.ChunkFormat = "mp3"
	}

	coord := turn.NewCoordinator(logger)

	out, err := audioio.NewOutput(cfg.Output, logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: output: %w", err)
	}

	src, err := audioio.NewSource(cfg.Input, logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: source: %w", err)
	}

	dec, err := codec.NewDecoder(cfg.ChunkFormat, cfg.Output.SampleRate, cfg.Output.Channels)
	if err != nil {
		return nil, fmt.Errorf("assistant: decoder: %w", err)
	}

	engine, err := playback.NewEngine(cfg.Playback, out, dec, coord, logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: playback: %w", err)
	}

	mic, err := capture.NewController(cfg.Capture, src, coord, logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: capture: %w", err)
	}

	client := transport.NewClient(cfg.BackendURL, logger)

	a := &Assistant{
		cfg:    cfg,
		logger: logger.With("component", "assistant"),
		coord:  coord,
		out:    out,
		src:    src,
		engine: engine,
		mic:    mic,
		client: client,
	}

	if cfg.StatusAddr != "" {
		a.server = web.NewServer(cfg.StatusAddr, a.snapshot, logger)
		a.server.OnInterrupt(a.Interrupt)
	}

	a.wire()
	return a, nil
}

// wire connects the callback graph between the layers.
func (a *Assistant) wire() {
	a.client.OnGreeting(func() {
		a.greetingNext.Store(true)
	})

	a.client.OnSessionStart(func() {
		var opts []playback.SessionOption
		if a.greetingNext.Swap(false) {
			opts = append(opts, playback.WithGreeting())
		}
		a.engine.StartSession(opts...)
	})

	a.client.OnChunk(func(payload []byte, format string) {
		if format != "" && format != a.cfg.ChunkFormat {
			a.logger.Warn("chunk format differs from configured decoder",
				"got", format,
				"want", a.cfg.ChunkFormat,
			)
		}
		if err := a.engine.Submit(payload); err != nil {
			a.logger.Warn("chunk rejected", "error", err)
		}
	})

	a.client.OnSessionEnd(func() {
		if err := a.engine.EndSession(); err != nil && !errors.Is(err, playback.ErrNoSession) {
			a.logger.Warn("end signal rejected", "error", err)
		}
	})

	a.client.OnAnalysis(func(active bool) {
		if active {
			a.coord.Set(turn.ModeAnalyzing)
		} else if a.coord.Mode() == turn.ModeAnalyzing {
			a.coord.Set(turn.ModeIdle)
		}
	})

	a.mic.OnUtterance(func(u capture.Utterance) {
		if err := a.client.SendUtterance(u.Data); err != nil {
			a.logger.Warn("utterance upload failed", "error", err)
			return
		}
		a.publish(web.Event{Event: "utterance", DurationMs: u.Duration.Milliseconds()})
	})

	a.engine.OnPlaybackStarted(func(sid playback.SessionID) {
		a.publish(web.Event{Event: "playback_started", Session: sid.String()})
	})

	a.engine.OnPlaybackEnded(func(sum playback.EndSummary) {
		a.publish(web.Event{
			Event:       "playback_ended",
			Session:     sum.Session.String(),
			DurationMs:  sum.Duration.Milliseconds(),
			DriftResets: sum.DriftResets,
		})
	})

	a.coord.OnChange(func(mode turn.Mode) {
		a.publish(web.Event{Event: "mode", Mode: mode.String()})
	})
}

func (a *Assistant) publish(ev web.Event) {
	if a.server != nil {
		a.server.Publish(ev)
	}
}

// snapshot builds the status API state.
func (a *Assistant) snapshot() web.State {
	state := web.State{
		Mode:             a.coord.Mode().String(),
		ClockMs:          a.engine.Clock().Milliseconds(),
		HeadroomMs:       a.engine.Headroom().Milliseconds(),
		BackendConnected: a.client.Connected(),
		Playback:         a.engine.Stats(),
		Capture:          a.mic.Stats(),
		Transport:        a.client.Stats(),
	}
	if sid, ok := a.engine.CurrentSession(); ok {
		state.Session = sid.String()
	}
	return state
}

// Interrupt cancels the current playback session and tells the backend
// to stop synthesizing.
func (a *Assistant) Interrupt() {
	a.engine.Cancel()
	if err := a.client.SendInterrupt(); err != nil {
		a.logger.Warn("interrupt send failed", "error", err)
	}
}

// Run starts every layer and blocks until ctx is cancelled.
func (a *Assistant) Run(ctx context.Context) error {
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				a.logger.Error("status server failed", "error", err)
			}
		}()
	}

	go func() {
		if err := a.mic.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("capture stopped", "error", err)
		}
	}()

	err := a.client.Run(ctx)

	a.shutdown()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Assistant) shutdown() {
	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			a.logger.Warn("status server shutdown", "error", err)
		}
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("engine close", "error", err)
	}
	if err := a.src.Close(); err != nil {
		a.logger.Warn("source close", "error", err)
	}
	if err := a.out.Close(); err != nil {
		a.logger.Warn("output close", "error", err)
	}

	// Give the device layer a moment to settle before process exit.
	time.Sleep(100 * time.Millisecond)
	a.logger.Info("assistant stopped")
}
