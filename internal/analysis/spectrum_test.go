// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"beatflux/pkg/utils"
)

func newTestAnalyser(t testing.TB, smoothing float64) *SpectrumAnalyser {
	t.Helper()
	cfg := DefaultSpectrumConfig(testSampleRate)
	cfg.Smoothing = smoothing
	a, err := NewSpectrumAnalyser(cfg)
	if err != nil {
		t.Fatalf("NewSpectrumAnalyser() error = %v", err)
	}
	return a
}

func analyse(t testing.TB, a *SpectrumAnalyser, block []int32) []byte {
	t.Helper()
	frame, err := a.Analyse(block)
	if err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}
	return frame
}

func TestSpectrumAnalyserValidation(t *testing.T) {
	base := DefaultSpectrumConfig(testSampleRate)
	tests := []struct {
		name   string
		modify func(*SpectrumConfig)
	}{
		{"Negative Smoothing", func(c *SpectrumConfig) { c.Smoothing = -0.1 }},
		{"Smoothing One", func(c *SpectrumConfig) { c.Smoothing = 1 }},
		{"Inverted Decibels", func(c *SpectrumConfig) { c.MinDecibels, c.MaxDecibels = -30, -100 }},
		{"Bad FFT Size", func(c *SpectrumConfig) { c.FFTSize = 1000 }},
		{"Zero Sample Rate", func(c *SpectrumConfig) { c.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.modify(&cfg)
			if _, err := NewSpectrumAnalyser(cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSpectrumSilenceIsZero(t *testing.T) {
	a := newTestAnalyser(t, 0.8)
	if a.FrequencyBinCount() != 1024 {
		t.Fatalf("FrequencyBinCount() = %d, want 1024", a.FrequencyBinCount())
	}
	frame := analyse(t, a, make([]int32, 1024))
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("bin %d = %d on silence, want 0", i, v)
		}
	}
	if a.AverageFrequency() != 0 || a.PeakAmplitude() != 0 {
		t.Errorf("AverageFrequency() = %v, PeakAmplitude() = %v, want 0", a.AverageFrequency(), a.PeakAmplitude())
	}
}

func TestSpectrumSinePeaksAtItsBin(t *testing.T) {
	a := newTestAnalyser(t, 0)
	const freq = 2000.0
	sine := utils.GenerateSineWave(2048, testSampleRate, freq)
	frame := analyse(t, a, sine)

	peak := 0
	for i, v := range frame {
		if v > frame[peak] {
			peak = i
		}
	}
	want := int(math.Round(freq * 2048 / testSampleRate))
	if d := peak - want; d < -1 || d > 1 {
		t.Errorf("peak byte bin = %d, want %d±1", peak, want)
	}
	if frame[peak] != 255 {
		t.Errorf("a full-scale sine should saturate, got %d", frame[peak])
	}
	if amp := a.PeakAmplitude(); amp < 0.85 || amp > 0.91 {
		t.Errorf("PeakAmplitude() = %v, want ~0.9", amp)
	}
	if a.AverageFrequency() <= 0 {
		t.Error("AverageFrequency() should be positive for a sine")
	}
}

func TestSpectrumSmoothingRisesGradually(t *testing.T) {
	a := newTestAnalyser(t, 0.8)
	sine := utils.GenerateSineWave(1024, testSampleRate, 1000)

	prev := -1.0
	for i := 0; i < 8; i++ {
		analyse(t, a, sine)
		avg := a.AverageFrequency()
		if avg < prev {
			t.Fatalf("frame %d: average level fell from %v to %v under steady input", i, prev, avg)
		}
		prev = avg
	}

	a.Reset()
	if a.AverageFrequency() != 0 || a.PeakAmplitude() != 0 {
		t.Error("Reset() should clear the frame and the window")
	}
}

func TestSpectrumLongBlockUsesTail(t *testing.T) {
	a := newTestAnalyser(t, 0)
	block := make([]int32, 4096)
	block[0] = math.MaxInt32 // Outside the last 2048 samples.
	analyse(t, a, block)
	if a.PeakAmplitude() != 0 {
		t.Errorf("PeakAmplitude() = %v, samples before the window should be ignored", a.PeakAmplitude())
	}
}

func TestSpectrumAnalyseZeroAllocs(t *testing.T) {
	a := newTestAnalyser(t, 0.8)
	block := utils.GenerateSineWave(1024, testSampleRate, 440)
	analyse(t, a, block)
	allocs := testing.AllocsPerRun(100, func() {
		if _, err := a.Analyse(block); err != nil {
			t.Fatal(err)
		}
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Analyse, got %.1f", allocs)
	}
}

func TestToByte(t *testing.T) {
	tests := []struct {
		in   float64
		want byte
	}{
		{math.NaN(), 0},
		{math.Inf(-1), 0},
		{-3, 0},
		{0.5, 0},
		{127.9, 127},
		{255, 255},
		{1e9, 255},
	}
	for _, tt := range tests {
		if got := toByte(tt.in); got != tt.want {
			t.Errorf("toByte(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
