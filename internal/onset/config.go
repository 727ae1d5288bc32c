// SPDX-License-Identifier: MIT
package onset

import (
	"fmt"
	"math"
)

// Defaults observed to work on music at render-loop frame rates. A tempo
// window of 20 threshold windows spans roughly ten seconds at 60 frames/s.
const (
	DefaultThresholdWindowSize = 30
	DefaultThresholdMultiplier = 1.2
	DefaultTempoWindowSize     = 20
	DefaultSubBandCount        = 4
)

// Config fixes the shape of a Detector for its lifetime.
type Config struct {
	FrameSize           int     `yaml:"frame_size"`            // Number of frequency bins per frame.
	ThresholdWindowSize int     `yaml:"threshold_window_size"` // Width of the adaptive threshold window, also the warm-up length.
	ThresholdMultiplier float64 `yaml:"threshold_multiplier"`  // Scales the moving-average threshold.
	TempoWindowSize     int     `yaml:"tempo_window_size"`     // Threshold windows of history used for tempo estimation.
	SubBandCount        int     `yaml:"sub_band_count"`        // Contiguous frequency sub-bands for SubBandFlux.
	Retention           int     `yaml:"retention"`             // Samples kept in history, 0 picks the minimum.
}

// DefaultConfig returns the default configuration for frames of frameSize bins.
func DefaultConfig(frameSize int) Config {
	return Config{
		FrameSize:           frameSize,
		ThresholdWindowSize: DefaultThresholdWindowSize,
		ThresholdMultiplier: DefaultThresholdMultiplier,
		TempoWindowSize:     DefaultTempoWindowSize,
		SubBandCount:        DefaultSubBandCount,
	}
}

// MinRetention is the smallest history that still covers the tempo window
// behind the frontier plus the peak-detection lag.
func (c Config) MinRetention() int {
	return c.ThresholdWindowSize*c.TempoWindowSize + c.ThresholdWindowSize/2 + 2
}

// Validate checks the configuration and returns an error wrapping
// ErrInvalidConfig for the first problem found.
func (c Config) Validate() error {
	switch {
	case c.FrameSize <= 0:
		return fmt.Errorf("%w: frame size must be positive, got %d", ErrInvalidConfig, c.FrameSize)
	case c.ThresholdWindowSize < 2:
		return fmt.Errorf("%w: threshold window size must be at least 2, got %d", ErrInvalidConfig, c.ThresholdWindowSize)
	case c.ThresholdMultiplier <= 0 || math.IsNaN(c.ThresholdMultiplier) || math.IsInf(c.ThresholdMultiplier, 0):
		return fmt.Errorf("%w: threshold multiplier must be positive and finite, got %v", ErrInvalidConfig, c.ThresholdMultiplier)
	case c.TempoWindowSize < 1:
		return fmt.Errorf("%w: tempo window size must be at least 1, got %d", ErrInvalidConfig, c.TempoWindowSize)
	case c.SubBandCount < 1 || c.SubBandCount > c.FrameSize:
		return fmt.Errorf("%w: sub-band count must be in [1, %d], got %d", ErrInvalidConfig, c.FrameSize, c.SubBandCount)
	case c.Retention != 0 && c.Retention < c.MinRetention():
		return fmt.Errorf("%w: retention must be 0 or at least %d, got %d", ErrInvalidConfig, c.MinRetention(), c.Retention)
	}
	return nil
}

func (c Config) retention() int {
	if c.Retention == 0 {
		// Leave one threshold window of slack for late readers.
		return c.MinRetention() + c.ThresholdWindowSize
	}
	return c.Retention
}
