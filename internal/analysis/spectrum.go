// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
)

// SpectrumConfig describes the analyser stage.
type SpectrumConfig struct {
	FFTSize     int
	SampleRate  float64
	Window      WindowFunc
	Smoothing   float64 // Time constant in [0, 1), 0 disables smoothing.
	MinDecibels float64 // Level mapped to byte 0.
	MaxDecibels float64 // Level mapped to byte 255.
}

// DefaultSpectrumConfig returns the analyser settings used by browsers for
// a fresh analyser node.
func DefaultSpectrumConfig(sampleRate float64) SpectrumConfig {
	return SpectrumConfig{
		FFTSize:     2048,
		SampleRate:  sampleRate,
		Window:      Blackman,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

var ErrDecibelRange = errors.New("min decibels must be below max decibels")

// SpectrumAnalyser turns a stream of audio blocks into byte frequency frames.
// It keeps the last FFTSize samples, so blocks shorter than the FFT overlap.
// Each frame holds FFTSize/2 bins: magnitudes normalized by the FFT size,
// exponentially smoothed, converted to decibels and mapped linearly from
// [MinDecibels, MaxDecibels] onto 0..255.
//
// A SpectrumAnalyser is not safe for concurrent use.
type SpectrumAnalyser struct {
	cfg      SpectrumConfig
	fft      *FFTProcessor
	history  []float64 // Last FFTSize samples in [-1, 1], oldest first.
	mags     []float64 // Raw FFT magnitudes, FFTSize/2+1.
	smoothed []float64 // Smoothed magnitudes, FFTSize/2.
	frame    []byte
}

// NewSpectrumAnalyser validates cfg and allocates every buffer up front.
func NewSpectrumAnalyser(cfg SpectrumConfig) (*SpectrumAnalyser, error) {
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be in [0, 1), got %v", cfg.Smoothing)
	}
	if cfg.MinDecibels >= cfg.MaxDecibels {
		return nil, fmt.Errorf("%w: %v >= %v", ErrDecibelRange, cfg.MinDecibels, cfg.MaxDecibels)
	}
	fft, err := NewFFTProcessor(cfg.FFTSize, cfg.SampleRate, cfg.Window)
	if err != nil {
		return nil, err
	}
	bins := cfg.FFTSize / 2
	return &SpectrumAnalyser{
		cfg:      cfg,
		fft:      fft,
		history:  make([]float64, cfg.FFTSize),
		mags:     make([]float64, bins+1),
		smoothed: make([]float64, bins),
		frame:    make([]byte, bins),
	}, nil
}

// FrequencyBinCount returns the frame length, FFTSize/2.
func (a *SpectrumAnalyser) FrequencyBinCount() int {
	return len(a.frame)
}

// FFT returns the underlying FFT stage.
func (a *SpectrumAnalyser) FFT() *FFTProcessor {
	return a.fft
}

// Analyse shifts block into the analysis window and returns the new byte
// frame. The returned slice is owned by the analyser and overwritten by the
// next call.
func (a *SpectrumAnalyser) Analyse(block []int32) ([]byte, error) {
	a.shiftIn(block)
	a.fft.ProcessFloat(a.history)
	if err := a.fft.GetMagnitudesInto(a.mags); err != nil {
		return nil, fmt.Errorf("analyse: %w", err)
	}

	scale := 1 / float64(a.cfg.FFTSize)
	tau := a.cfg.Smoothing
	rangeScale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for i := range a.smoothed {
		a.smoothed[i] = tau*a.smoothed[i] + (1-tau)*a.mags[i]*scale
		if math.IsNaN(a.smoothed[i]) || math.IsInf(a.smoothed[i], 0) {
			a.smoothed[i] = 0
		}
		a.frame[i] = toByte(rangeScale * (decibels(a.smoothed[i]) - a.cfg.MinDecibels))
	}
	return a.frame, nil
}

func (a *SpectrumAnalyser) shiftIn(block []int32) {
	const normFactor = 1.0 / float64(0x80000000)
	n := len(a.history)
	if len(block) > n {
		block = block[len(block)-n:]
	}
	k := len(block)
	copy(a.history, a.history[k:])
	for i, s := range block {
		a.history[n-k+i] = float64(s) * normFactor
	}
}

// Frame returns the most recent byte frame without recomputing it.
func (a *SpectrumAnalyser) Frame() []byte {
	return a.frame
}

// AverageFrequency returns the mean byte level of the current frame.
func (a *SpectrumAnalyser) AverageFrequency() float64 {
	if len(a.frame) == 0 {
		return 0
	}
	var sum int
	for _, v := range a.frame {
		sum += int(v)
	}
	return float64(sum) / float64(len(a.frame))
}

// PeakAmplitude returns the largest absolute sample in the analysis window,
// in [0, 1].
func (a *SpectrumAnalyser) PeakAmplitude() float64 {
	var peak float64
	for _, s := range a.history {
		peak = math.Max(peak, math.Abs(s))
	}
	return peak
}

// Reset clears the analysis window and the smoothing state.
func (a *SpectrumAnalyser) Reset() {
	clear(a.history)
	clear(a.smoothed)
	clear(a.frame)
}

func decibels(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

func toByte(v float64) byte {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}
