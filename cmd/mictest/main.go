// mictest exercises the capture path without a backend: it lists audio
// devices, runs the voice-activity gate against the live microphone, and
// reports each detected utterance.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voicelink-ai/voicelink/internal/config"
	"github.com/voicelink-ai/voicelink/internal/log"
	"github.com/voicelink-ai/voicelink/pkg/audioio"
	"github.com/voicelink-ai/voicelink/pkg/capture"
	"github.com/voicelink-ai/voicelink/pkg/turn"
)

func main() {
	var (
		list      = flag.Bool("list", false, "list capture devices and exit")
		micDevice = flag.String("mic", config.CaptureDevice(), "capture device name substring (empty = default)")
		threshold = flag.Float64("threshold", capture.DefaultConfig().EnergyThreshold, "voice energy threshold (0..1)")
		mockAudio = flag.Bool("mock-audio", config.MockAudio(), "use the mock audio backend")
	)
	flag.Parse()

	log.Init(config.LogLevel())
	logger := log.L()

	if *list {
		names, err := audioio.ListDevices(malgo.Capture)
		if err != nil {
			logger.Error("device enumeration failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("Capture devices:")
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		return
	}

	srcCfg := audioio.DefaultConfig()
	srcCfg.SampleRate = 16000
	srcCfg.Device = *micDevice
	if *mockAudio {
		srcCfg.Backend = audioio.BackendMock
	}

	src, err := audioio.NewSource(srcCfg, logger)
	if err != nil {
		logger.Error("source init failed", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	capCfg := capture.DefaultConfig()
	capCfg.EnergyThreshold = *threshold

	coord := turn.NewCoordinator(logger)
	mic, err := capture.NewController(capCfg, src, coord, logger)
	if err != nil {
		logger.Error("capture init failed", "error", err)
		os.Exit(1)
	}

	mic.OnUtterance(func(u capture.Utterance) {
		fmt.Printf("utterance: %v, %d bytes mp3, peak rms %.4f\n",
			u.Duration.Round(10*time.Millisecond), len(u.Data), u.PeakRMS)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Listening. Speak into the microphone; Ctrl+C to stop.")
	if err := mic.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("capture failed", "error", err)
		os.Exit(1)
	}

	stats := mic.Stats()
	fmt.Printf("frames: %d  utterances: %d  too short: %d\n",
		stats.FramesProcessed, stats.UtterancesSent, stats.UtterancesTooShort)
}
