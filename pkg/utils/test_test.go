// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"
	"testing"
)

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = mt.Send(i)
		}(i)
	}
	wg.Wait()

	if got := len(mt.Messages()); got != 8 {
		t.Errorf("recorded %d messages, want 8", got)
	}
	if mt.Closed() {
		t.Error("transport closed before Close()")
	}
	if err := mt.Close(); err != nil || !mt.Closed() {
		t.Errorf("Close() = %v, closed = %v", err, mt.Closed())
	}
}

func TestGenerateSineWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"A4 Note", 1024, 44100, 440.0},
		{"High Sample Rate", 1024, 192000, 440.0},
		{"Low Sample Rate", 1024, 8000, 440.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSineWave(tt.size, tt.sampleRate, tt.frequency)
			if len(result) != tt.size {
				t.Fatalf("buffer size = %d, want %d", len(result), tt.size)
			}

			crossCount := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0) != (result[i] < 0) {
					crossCount++
				}
			}
			// Two zero crossings per cycle, 20% margin for phase alignment.
			expected := 2 * float64(tt.size) * tt.frequency / tt.sampleRate
			if math.Abs(float64(crossCount)-expected) > 0.2*expected {
				t.Errorf("zero crossings = %d, expected approximately %.1f", crossCount, expected)
			}
		})
	}
}

func TestGenerateClickTrack(t *testing.T) {
	const sampleRate = 8000
	track := GenerateClickTrack(sampleRate*2, sampleRate, 0.5, 0.25, 100)

	nonZeroRuns := 0
	inClick := false
	for i, v := range track {
		silentWindow := true
		for j := i; j < i+5 && j < len(track); j++ {
			if track[j] != 0 {
				silentWindow = false
				break
			}
		}
		if !inClick && v != 0 {
			nonZeroRuns++
			inClick = true
		} else if inClick && silentWindow {
			inClick = false
		}
	}
	// Clicks at 0.25, 0.75, 1.25 and 1.75 seconds.
	if nonZeroRuns != 4 {
		t.Errorf("found %d clicks, want 4", nonZeroRuns)
	}
	if track[0] != 0 || track[sampleRate/4-1] != 0 {
		t.Error("expected silence before the first click")
	}
}

func TestSplitBlocks(t *testing.T) {
	blocks := SplitBlocks(make([]int32, 10), 4)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	for _, b := range blocks {
		if len(b) != 4 {
			t.Errorf("block length = %d, want 4", len(b))
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	const size = 256
	mags := make([]float64, size)
	for i := range mags {
		mags[i] = math.Exp(-0.01 * math.Pow(float64(i-size/4), 2))
	}

	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", mags, 0, size - 1, size / 4},
		{"Negative Start", mags, -10, size - 1, size / 4},
		{"Out of Range End", mags, 0, size * 2, size / 4},
		{"Window Past Peak", mags, size / 2, size - 1, size / 2},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(tt.mags, tt.start, tt.end); got != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.expected)
			}
		})
	}
}
