// Package config provides environment-based configuration helpers for
// voicelink commands.
package config

import (
	"os"
	"strconv"
)

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultBackendURL = "ws://localhost:8000/ws"
	DefaultStatusAddr = ":8090"
)

// BackendURL returns the backend WebSocket URL from VOICELINK_BACKEND_URL.
func BackendURL() string {
	if url := os.Getenv("VOICELINK_BACKEND_URL"); url != "" {
		return url
	}
	return DefaultBackendURL
}

// StatusAddr returns the status server listen address from VOICELINK_STATUS_ADDR.
func StatusAddr() string {
	if addr := os.Getenv("VOICELINK_STATUS_ADDR"); addr != "" {
		return addr
	}
	return DefaultStatusAddr
}

// LogLevel returns the log level from VOICELINK_LOG_LEVEL.
// Falls back to "info" if not set.
func LogLevel() string {
	if lvl := os.Getenv("VOICELINK_LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}

// CaptureDevice returns the capture device identifier from VOICELINK_MIC_DEVICE.
// Empty means the system default.
func CaptureDevice() string {
	return os.Getenv("VOICELINK_MIC_DEVICE")
}

// MockAudio reports whether VOICELINK_MOCK_AUDIO requests the mock audio
// backend (useful on machines without audio hardware).
func MockAudio() bool {
	v, err := strconv.ParseBool(os.Getenv("VOICELINK_MOCK_AUDIO"))
	return err == nil && v
}
