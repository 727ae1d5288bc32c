// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"beatflux/internal/config"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrAlreadyRecording = errors.New("already recording")

type writeSeekCloser interface {
	io.WriteSeeker
	io.Closer
}

// RecordingPath returns the configured output file, or a timestamped name
// in the output directory when none is set.
func RecordingPath(cfg config.RecordingConfig, now time.Time) string {
	if cfg.OutputFile != "" {
		return cfg.OutputFile
	}
	return filepath.Join(cfg.OutputDir, fmt.Sprintf("beatflux-%s.wav", now.Format("20060102-150405")))
}

// StartRecording writes the raw interleaved input to a 32-bit WAV file.
func (e *Engine) StartRecording(filename string) error {
	if atomic.LoadInt32(&e.isRecording) == 1 {
		return ErrAlreadyRecording
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	e.recMu.Lock()
	e.outputFile = file
	e.wavEncoder = wav.NewEncoder(file, int(e.config.SampleRate), 32, e.config.InputChannels, 1)
	e.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: e.config.InputChannels,
			SampleRate:  int(e.config.SampleRate),
		},
		Data:           make([]int, e.config.FramesPerBuffer*e.config.InputChannels),
		SourceBitDepth: 32,
	}
	e.recMu.Unlock()

	atomic.StoreInt32(&e.isRecording, 1)
	logger.Infof("recording input to %s", filename)
	return nil
}

// writeRecording converts and appends one interleaved block.
func (e *Engine) writeRecording(buffer []int32) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if e.wavEncoder == nil {
		return
	}

	data := e.sampleBuf.Data[:cap(e.sampleBuf.Data)]
	n := min(len(buffer), len(data))
	for i := range n {
		data[i] = int(buffer[i])
	}
	e.sampleBuf.Data = data[:n]

	if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
		logger.Errorf("error writing to WAV file: %v", err)
	}
}

// StopRecording finalizes the WAV header and closes the file. It is a no-op
// when not recording.
func (e *Engine) StopRecording() error {
	if !atomic.CompareAndSwapInt32(&e.isRecording, 1, 0) {
		return nil
	}

	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.wavEncoder != nil {
		if err := e.wavEncoder.Close(); err != nil {
			return err
		}
		e.wavEncoder = nil
	}

	if e.outputFile != nil {
		if err := e.outputFile.Close(); err != nil {
			return err
		}
		e.outputFile = nil
	}
	logger.Infof("recording stopped")
	return nil
}
