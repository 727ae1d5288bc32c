// SPDX-License-Identifier: MIT
/*
Package onset implements a streaming spectral onset detector.

Each call to Ingest consumes one frequency-magnitude frame and appends a
Sample holding the rectified spectral flux of the frame. Derived fields are
back-filled once enough context exists:

  - threshold and pruned flux for the sample W/2 behind the newest one,
    where W is the threshold window size,
  - the peak flag one sample further back, once both neighbours have a
    pruned flux,
  - a peaks-per-minute tempo estimate once W*T samples of history exist.

The frontier advances by exactly one sample per Ingest after the first W
samples. Per-call cost is O(N + W) for N bins and no allocations are made
on the ingest path.

A Detector is not safe for concurrent use. Hosts that read from other
goroutines must guard it with a single mutex.
*/
package onset

import (
	"fmt"
	"math"
)

// Option configures optional Detector behaviour.
type Option func(d *Detector)

// WithObserver registers fn to be called once for every sample as it becomes
// finalized, in index order. fn runs on the Ingest call path and receives a
// copy of the sample.
func WithObserver(fn func(Sample)) Option {
	return func(d *Detector) {
		d.observer = fn
	}
}

// Detector is the onset-detection state machine.
type Detector struct {
	cfg  Config
	half int // W/2, the lag between the newest sample and the frontier.

	samples  *sampleRing
	previous []byte // Copy of the last ingested frame, zero before the first.
	lastTime float64

	frontier    int // Next sample eligible for threshold computation.
	windowPeaks int // Peaks in [frontier-T*W, frontier).

	observer func(Sample)
}

// New validates cfg and returns a Detector ready for ingestion.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:      cfg,
		half:     cfg.ThresholdWindowSize / 2,
		samples:  newSampleRing(cfg.retention(), cfg.SubBandCount),
		previous: make([]byte, cfg.FrameSize),
	}
	d.frontier = d.half
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the configuration the detector was built with.
func (d *Detector) Config() Config {
	return d.cfg
}

// Ingest appends a sample for frame observed at timestamp (seconds on a
// monotonic clock) and advances the frontier. A frame of the wrong length
// or a timestamp earlier than the previous one is rejected and leaves the
// detector unchanged. Equal timestamps are accepted.
func (d *Detector) Ingest(frame []byte, timestamp float64) error {
	if len(frame) != d.cfg.FrameSize {
		return fmt.Errorf("%w: got %d bins, want %d", ErrInvalidFrameLength, len(frame), d.cfg.FrameSize)
	}
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) {
		return fmt.Errorf("%w: timestamp %v is not finite", ErrNonMonotonicTimestamp, timestamp)
	}
	if d.samples.len() > 0 && timestamp < d.lastTime {
		return fmt.Errorf("%w: %v is before %v", ErrNonMonotonicTimestamp, timestamp, d.lastTime)
	}

	s := d.samples.push(timestamp)
	s.SpectralFlux = subBandFlux(s.SubBandFlux, frame, d.previous)
	d.lastTime = timestamp

	if d.samples.len() >= d.cfg.ThresholdWindowSize {
		d.advance()
	}

	copy(d.previous, frame)
	return nil
}

// advance computes the second-order fields at the frontier and finalizes
// the sample behind it.
func (d *Detector) advance() {
	if d.frontier == d.half {
		d.resolveLeadIn()
	}

	i := d.frontier
	s := d.samples.at(i)
	threshold := d.threshold(i)
	s.Threshold.set(threshold)
	s.PrunedFlux.set(math.Max(0, s.SpectralFlux-threshold))

	d.resolvePeak(i - 1)
	d.slideTempoWindow(i)

	if d.samples.len() >= d.cfg.ThresholdWindowSize*d.cfg.TempoWindowSize {
		d.estimateTempo(s)
	} else {
		s.Tempo.markUndefined()
	}

	d.frontier++
	d.notify(i - 1)
}

// resolveLeadIn marks the samples before the first thresholded index. They
// never have a full window on their left and are never peaks. All but the
// last of them are finalized here; the last one is resolved by advance.
func (d *Detector) resolveLeadIn() {
	for j := 0; j < d.half; j++ {
		s := d.samples.at(j)
		s.Threshold.markUndefined()
		s.PrunedFlux.markUndefined()
		s.Tempo.markUndefined()
	}
	for j := 0; j < d.half-1; j++ {
		d.resolvePeak(j)
		d.notify(j)
	}
}

func (d *Detector) notify(i int) {
	if d.observer != nil {
		d.observer(d.samples.at(i).clone())
	}
}

// threshold averages the spectral flux over the half-open window
// [i-W/2, i+W/2) clipped to the log and scales it by the multiplier. The
// divisor is the number of samples actually summed.
func (d *Detector) threshold(i int) float64 {
	lo := max(0, i-d.half)
	hi := min(d.samples.len(), i+d.half)
	var sum float64
	for j := lo; j < hi; j++ {
		sum += d.samples.at(j).SpectralFlux
	}
	return sum / float64(hi-lo) * d.cfg.ThresholdMultiplier
}

// resolvePeak sets the peak flag of sample p: a strict local maximum of the
// pruned flux. Samples without a pruned flux on themselves or their left
// neighbour are not peaks.
func (d *Detector) resolvePeak(p int) {
	s := d.samples.at(p)
	cur, ok := s.PrunedFlux.Get()
	right, rightOK := d.samples.at(p + 1).PrunedFlux.Get()
	var left float64
	leftOK := false
	if p > 0 {
		left, leftOK = d.samples.at(p - 1).PrunedFlux.Get()
	}
	s.IsPeak.set(ok && leftOK && rightOK && cur > left && cur > right)
}

// slideTempoWindow moves the peak count from [i-1-T*W, i-1) to [i-T*W, i).
func (d *Detector) slideTempoWindow(i int) {
	if d.samples.at(i - 1).Peak() {
		d.windowPeaks++
	}
	if out := i - 1 - d.tempoSpan(); out >= 0 && d.samples.at(out).Peak() {
		d.windowPeaks--
	}
}

// estimateTempo extrapolates peaks per minute over [max(0, i-T*W), i). A
// window without elapsed time leaves the estimate Undefined.
func (d *Detector) estimateTempo(s *Sample) {
	i := s.Index
	lo := max(0, i-d.tempoSpan())
	if i-lo < 2 {
		s.Tempo.markUndefined()
		return
	}
	span := d.samples.at(i-1).Time - d.samples.at(lo).Time
	if span <= 0 {
		s.Tempo.markUndefined()
		return
	}
	s.Tempo.set(float64(d.windowPeaks) * 60 / span)
}

func (d *Detector) tempoSpan() int {
	return d.cfg.ThresholdWindowSize * d.cfg.TempoWindowSize
}

// Len returns the number of samples ingested so far.
func (d *Detector) Len() int {
	return d.samples.len()
}

// Frontier returns the index of the next sample whose threshold will be
// computed.
func (d *Detector) Frontier() int {
	return d.frontier
}

// Oldest returns the lowest index SampleAt can still answer.
func (d *Detector) Oldest() int {
	return d.samples.oldest()
}

// SampleAt returns a copy of sample i.
func (d *Detector) SampleAt(i int) (Sample, error) {
	if i < 0 || i >= d.samples.len() {
		return Sample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, d.samples.len())
	}
	if i < d.samples.oldest() {
		return Sample{}, fmt.Errorf("%w: %d is older than %d", ErrSampleEvicted, i, d.samples.oldest())
	}
	return d.samples.at(i).clone(), nil
}

// LatestFinalized returns the most recent sample whose derived fields are
// all resolved. It reports false until warm-up is complete.
func (d *Detector) LatestFinalized() (Sample, bool) {
	if d.samples.len() < d.cfg.ThresholdWindowSize {
		return Sample{}, false
	}
	return d.samples.at(d.frontier - 2).clone(), true
}

// EstimatedTempo returns the tempo estimate of the latest finalized sample
// in peaks per minute, and false while no estimate is available.
func (d *Detector) EstimatedTempo() (float64, bool) {
	if d.samples.len() < d.cfg.ThresholdWindowSize {
		return 0, false
	}
	return d.samples.at(d.frontier - 2).Tempo.Get()
}

// Reset discards all history and returns the detector to its initial state.
func (d *Detector) Reset() {
	d.samples.clear()
	for i := range d.previous {
		d.previous[i] = 0
	}
	d.lastTime = 0
	d.frontier = d.half
	d.windowPeaks = 0
}
