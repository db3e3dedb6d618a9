package capture

import (
	"fmt"
	"time"
)

// Config holds capture tuning parameters.
type Config struct {
	// EnergyThreshold is the normalized RMS level (0..1) above which a
	// frame counts as voice.
	// Default: 0.015
	EnergyThreshold float64 `json:"energy_threshold"`

	// SilenceTimeout is how long the signal must stay below the threshold
	// before an utterance is considered finished.
	// Default: 800ms
	SilenceTimeout time.Duration `json:"silence_timeout"`

	// MinUtterance is the minimum utterance length worth sending. Shorter
	// captures (door slams, coughs) are discarded.
	// Default: 300ms
	MinUtterance time.Duration `json:"min_utterance"`

	// MaxUtterance caps a single utterance; when reached the utterance is
	// flushed even if the speaker has not paused.
	// Default: 15s
	MaxUtterance time.Duration `json:"max_utterance"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 0.015,
		SilenceTimeout:  800 * time.Millisecond,
		MinUtterance:    300 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.EnergyThreshold <= 0 || c.EnergyThreshold >= 1 {
		return fmt.Errorf("energy_threshold must be in (0, 1), got %f", c.EnergyThreshold)
	}
	if c.SilenceTimeout <= 0 {
		return fmt.Errorf("silence_timeout must be positive, got %v", c.SilenceTimeout)
	}
	if c.MinUtterance < 0 {
		return fmt.Errorf("min_utterance must be non-negative, got %v", c.MinUtterance)
	}
	if c.MaxUtterance <= c.MinUtterance {
		return fmt.Errorf("max_utterance must exceed min_utterance, got %v", c.MaxUtterance)
	}
	return nil
}
