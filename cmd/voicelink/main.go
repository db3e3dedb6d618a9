// voicelink is the voice client: it streams synthesized speech from the
// backend to the speaker and captured utterances from the microphone
// back up, one turn at a time.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicelink-ai/voicelink/internal/config"
	"github.com/voicelink-ai/voicelink/internal/log"
	"github.com/voicelink-ai/voicelink/pkg/assistant"
	"github.com/voicelink-ai/voicelink/pkg/audioio"
)

func main() {
	var (
		backendURL = flag.String("backend", config.BackendURL(), "backend websocket URL")
		statusAddr = flag.String("status", config.StatusAddr(), "status API listen address (empty disables)")
		micDevice  = flag.String("mic", config.CaptureDevice(), "capture device name substring (empty = default)")
		mockAudio  = flag.Bool("mock-audio", config.MockAudio(), "use the mock audio backend (no hardware)")
	)
	flag.Parse()

	log.Init(config.LogLevel())
	logger := log.L()

	cfg := assistant.DefaultConfig()
	cfg.BackendURL = *backendURL
	cfg.StatusAddr = *statusAddr
	cfg.Input.Device = *micDevice
	if *mockAudio {
		cfg.Input.Backend = audioio.BackendMock
		cfg.Output.Backend = audioio.BackendMock
	}

	a, err := assistant.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("voicelink starting",
		"backend", cfg.BackendURL,
		"status_addr", cfg.StatusAddr,
	)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("voicelink exited", "error", err)
		os.Exit(1)
	}
}
