// SPDX-License-Identifier: MIT
/*
Package audio captures and decodes audio for the onset pipeline:
  - PortAudio input streams with pre-allocated buffers
  - a branchless noise gate and first-channel mono down-mix
  - WAV recording of the raw input
  - offline decoding of WAV and MP3 files

Every block reaches the processor, including gated ones which are passed as
silence, so the audio clock derived from block sizes stays monotonic.
*/
package audio

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"beatflux/internal/analysis"
	"beatflux/internal/config"
	"beatflux/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

var logger = log.New("audio")

type Engine struct {
	config *config.AudioConfig

	// Audio input handling.
	inputBuffer  []int32
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Analysis of the first channel.
	processor analysis.AudioProcessor
	monoInput []int32
	silence   []int32 // Passed instead of gated blocks, never written.

	// Noise gate, see gate.go.
	gateEnabled   atomic.Bool
	gateThreshold atomic.Int32 // Absolute amplitude threshold (0-2147483647)
	gatedBlocks   atomic.Uint64
	blocks        atomic.Uint64

	// Recording state and buffers.
	isRecording int32      // Atomic flag checked on the callback path.
	recMu       sync.Mutex // Serializes encoder writes with Stop.
	outputFile  writeSeekCloser
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
}

// NewEngine prepares an engine for the configured input device. processor
// receives one mono block per callback and may be nil.
func NewEngine(cfg *config.AudioConfig, processor analysis.AudioProcessor) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}

	engine := newEngine(cfg, processor)
	engine.inputDevice = inputDevice
	if cfg.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
	}
	logger.Infof("using input device %q (%d channels at %.0f Hz, latency %s)",
		inputDevice.Name, cfg.InputChannels, cfg.SampleRate, engine.inputLatency)
	return engine, nil
}

// newEngine builds the device-independent part of an engine.
func newEngine(cfg *config.AudioConfig, processor analysis.AudioProcessor) *Engine {
	e := &Engine{
		config:      cfg,
		inputBuffer: make([]int32, cfg.FramesPerBuffer*cfg.InputChannels),
		processor:   processor,
		monoInput:   make([]int32, cfg.FramesPerBuffer),
		silence:     make([]int32, cfg.FramesPerBuffer),
	}
	e.gateEnabled.Store(cfg.GateEnabled)
	e.SetGateThreshold(cfg.GateThreshold)
	return e
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: e.config.FramesPerBuffer,
		SampleRate:      e.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		return err
	}
	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}
		if err := e.inputStream.Close(); err != nil {
			return err
		}
		e.inputStream = nil
		logger.Debugf("input stream stopped after %d blocks (%d gated)", e.blocks.Load(), e.gatedBlocks.Load())
	}
	return nil
}

// processInputStream is the PortAudio callback. It only touches
// pre-allocated buffers.
func (e *Engine) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(e.inputBuffer, in)
	e.processBuffer(e.inputBuffer)

	if atomic.LoadInt32(&e.isRecording) == 1 {
		e.writeRecording(e.inputBuffer)
	}
}

// processBuffer gates the block, reduces it to the first channel and hands
// it to the processor. Gated blocks are passed as silence and buffer is
// left untouched for the recorder.
func (e *Engine) processBuffer(buffer []int32) {
	e.blocks.Add(1)
	mono := downmix(e.monoInput, buffer, e.config.InputChannels)
	if !e.passes(buffer) {
		mono = e.silence[:min(len(mono), len(e.silence))]
	}
	if e.processor != nil {
		e.processor.Process(mono)
	}
}

// GateStats returns the number of blocks seen and how many were gated.
func (e *Engine) GateStats() (blocks, gated uint64) {
	return e.blocks.Load(), e.gatedBlocks.Load()
}

// downmix copies the first channel of the interleaved buffer into dst and
// returns the filled prefix. A single channel is returned as is.
func downmix(dst, interleaved []int32, channels int) []int32 {
	if channels <= 1 {
		return interleaved
	}
	n := min(len(dst), len(interleaved)/channels)
	for i := range n {
		dst[i] = interleaved[i*channels]
	}
	return dst[:n]
}

func (e *Engine) Close() error {
	if err := e.StopRecording(); err != nil {
		return err
	}
	return e.StopInputStream()
}
