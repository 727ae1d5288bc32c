// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"sync"

	"beatflux/internal/onset"
	"beatflux/internal/transport"
)

// OnsetProcessor feeds audio blocks through a SpectrumAnalyser into an onset
// Detector. Each block is stamped with the audio clock, frames seen divided
// by the sample rate, so timestamps never go backwards even when the host
// clock stalls. Finalized samples are forwarded to the transport.
//
// All state is guarded by one mutex, Snapshot may be called from any
// goroutine.
//
// A frame the detector rejects for its timestamp is dropped. Any other
// failure stops the pipeline: later blocks are ignored, Err reports the
// cause and Failed is closed.
type OnsetProcessor struct {
	mu         sync.Mutex
	analyser   *SpectrumAnalyser
	detector   *onset.Detector
	transport  transport.Transport
	sampleRate float64
	framesSeen int64

	latest    onset.Sample
	valid     bool
	peaks     int
	level     float64 // Mean byte level of the latest frame.
	amplitude float64 // Peak input amplitude in the analysis window.

	dropped int // Blocks rejected by the detector.
	err     error
	failed  chan struct{}
}

var _ ClosableProcessor = (*OnsetProcessor)(nil)
var _ Snapshotter = (*OnsetProcessor)(nil)

// NewOnsetProcessor builds the detector from cfg. The analyser frame length
// must equal cfg.FrameSize. t may be nil.
func NewOnsetProcessor(analyser *SpectrumAnalyser, cfg onset.Config, t transport.Transport) (*OnsetProcessor, error) {
	if analyser.FrequencyBinCount() != cfg.FrameSize {
		return nil, fmt.Errorf("%w: analyser produces %d bins, detector expects %d",
			onset.ErrInvalidConfig, analyser.FrequencyBinCount(), cfg.FrameSize)
	}
	p := &OnsetProcessor{
		analyser:   analyser,
		transport:  t,
		sampleRate: analyser.cfg.SampleRate,
		failed:     make(chan struct{}),
	}
	detector, err := onset.New(cfg, onset.WithObserver(p.finalized))
	if err != nil {
		return nil, err
	}
	p.detector = detector
	logger.Infof("onset detector ready (bins: %d, window: %d, multiplier: %.2f, tempo window: %d)",
		cfg.FrameSize, cfg.ThresholdWindowSize, cfg.ThresholdMultiplier, cfg.TempoWindowSize)
	return p, nil
}

// Process analyses one mono block and ingests the resulting frame.
func (p *OnsetProcessor) Process(block []int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}

	ts := float64(p.framesSeen) / p.sampleRate
	p.framesSeen += int64(len(block))

	frame, err := p.analyser.Analyse(block)
	if err != nil {
		p.fail(err)
		return
	}
	p.level = p.analyser.AverageFrequency()
	p.amplitude = p.analyser.PeakAmplitude()

	if err := p.detector.Ingest(frame, ts); err != nil {
		if errors.Is(err, onset.ErrNonMonotonicTimestamp) {
			p.dropped++
			logger.Warnf("dropping frame: %v", err)
			return
		}
		p.fail(err)
	}
}

// fail records the first fatal error. Callers hold the lock.
func (p *OnsetProcessor) fail(err error) {
	p.err = err
	close(p.failed)
	logger.Errorf("onset pipeline stopped: %v", err)
}

// Err returns the error that stopped the pipeline, if any.
func (p *OnsetProcessor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Failed is closed when the pipeline stops on an error.
func (p *OnsetProcessor) Failed() <-chan struct{} {
	return p.failed
}

// finalized runs on the Process call path with the lock held.
func (p *OnsetProcessor) finalized(s onset.Sample) {
	p.latest = s
	p.valid = true
	if s.Peak() {
		p.peaks++
	}
	if p.transport == nil {
		return
	}
	if err := p.transport.Send(s); err != nil {
		logger.Warnf("failed to send sample %d: %v", s.Index, err)
	}
}

// Snapshot returns the latest finalized state.
func (p *OnsetProcessor) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Valid:     p.valid,
		Peaks:     p.peaks,
		Frontier:  p.detector.Frontier(),
		Level:     p.level,
		Amplitude: p.amplitude,
	}
	if p.valid {
		snap.Latest = p.latest
		snap.Latest.SubBandFlux = append([]float64(nil), p.latest.SubBandFlux...)
		snap.Tempo, _ = p.latest.Tempo.Get()
	}
	return snap
}

// Elapsed returns the audio clock in seconds.
func (p *OnsetProcessor) Elapsed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.framesSeen) / p.sampleRate
}

// Dropped returns the number of blocks the detector rejected.
func (p *OnsetProcessor) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Reset clears the detector, the analyser and the audio clock. A stopped
// pipeline stays stopped.
func (p *OnsetProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detector.Reset()
	p.analyser.Reset()
	p.framesSeen = 0
	p.latest = onset.Sample{}
	p.valid = false
	p.peaks = 0
	p.level = 0
	p.amplitude = 0
	p.dropped = 0
}

// Close releases the analyser.
func (p *OnsetProcessor) Close() error {
	return p.analyser.fft.Close()
}
