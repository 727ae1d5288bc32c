// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"strconv"
)

const (
	testSampleRate = 44100
	testFrameSize  = 1024
)

var (
	lowThreshold  = int32(0.001 * math.MaxInt32)
	highThreshold = int32(0.9 * math.MaxInt32)

	testBuffer  = makeTestBuffer(0.25)
	quietBuffer = makeTestBuffer(0.001)
	loudBuffer  = makeTestBuffer(0.95)
)

// makeTestBuffer returns a 440 Hz sine peaking at level of full scale.
func makeTestBuffer(level float64) []int32 {
	buffer := make([]int32, testFrameSize)
	for i := range buffer {
		buffer[i] = int32(level * math.MaxInt32 * math.Sin(2*math.Pi*440*float64(i)/testSampleRate))
	}
	return buffer
}

// recordingProcessor keeps a copy of every block it receives.
type recordingProcessor struct {
	blocks [][]int32
}

func (p *recordingProcessor) Process(block []int32) {
	p.blocks = append(p.blocks, append([]int32(nil), block...))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func absFloat(x float64) float64 {
	return math.Abs(x)
}
