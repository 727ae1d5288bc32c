// SPDX-License-Identifier: MIT
package analysis

import "beatflux/internal/onset"

// AudioProcessor is implemented by components that consume mono audio
// blocks. Process is called from the real-time callback, implementations
// must not block.
type AudioProcessor interface {
	Process(inputBuffer []int32)
}

// ClosableProcessor combines AudioProcessor with a Close method for resource cleanup.
type ClosableProcessor interface {
	AudioProcessor
	Close() error
}

// Snapshot is a consistent view of the onset pipeline at one instant.
type Snapshot struct {
	Latest   onset.Sample // Most recent finalized sample.
	Valid    bool         // False until a sample has been finalized.
	Tempo    float64      // Tempo of the latest sample, 0 when undefined.
	Peaks    int          // Peaks finalized since the last reset.
	Frontier int          // Next sample eligible for thresholding.

	Level     float64 // Mean byte level of the latest spectrum frame, 0..255.
	Amplitude float64 // Peak input amplitude of the analysis window, 0..1.
}

// Snapshotter is polled by readers on other goroutines, such as the terminal
// monitor and the UDP publisher.
type Snapshotter interface {
	Snapshot() Snapshot
}
