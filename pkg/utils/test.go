// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"
)

// MockTransport records every message sent to it. It satisfies the
// transport interfaces used by the analysis pipeline and is safe for
// concurrent use.
type MockTransport struct {
	mu       sync.Mutex
	messages []any
	closed   bool
}

// Send stores the message for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, data)
	return nil
}

// Close marks the transport as closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.messages))
	copy(out, m.messages)
	return out
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateSineWave returns size int32 samples of a sine at frequency Hz.
func GenerateSineWave(size int, sampleRate, frequency float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateClickTrack returns size samples of silence with a decaying
// 1 kHz burst of clickLen samples every interval seconds, starting at
// offset seconds. It models a metronome for tempo tests.
func GenerateClickTrack(size int, sampleRate, interval, offset float64, clickLen int) []int32 {
	buffer := make([]int32, size)
	period := interval * sampleRate
	for start := offset * sampleRate; int(start) < size; start += period {
		s := int(start)
		for j := 0; j < clickLen && s+j < size; j++ {
			t := float64(j) / sampleRate
			envelope := 1 - float64(j)/float64(clickLen)
			buffer[s+j] = int32(math.Sin(2*math.Pi*1000*t) * envelope * math.MaxInt32 * 0.9)
		}
	}
	return buffer
}

// SplitBlocks cuts samples into consecutive blocks of blockSize, dropping
// a trailing partial block.
func SplitBlocks(samples []int32, blockSize int) [][]int32 {
	blocks := make([][]int32, 0, len(samples)/blockSize)
	for i := 0; i+blockSize <= len(samples); i += blockSize {
		blocks = append(blocks, samples[i:i+blockSize])
	}
	return blocks
}

// FindPeakBin returns the index of the largest magnitude in the inclusive
// range [startBin, endBin], clamped to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	startBin = max(startBin, 0)
	endBin = min(endBin, len(magnitudes)-1)

	peakBin := startBin
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > magnitudes[peakBin] {
			peakBin = bin
		}
	}
	return peakBin
}
