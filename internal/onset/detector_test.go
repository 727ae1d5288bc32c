// SPDX-License-Identifier: MIT
package onset

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyConfig uses small windows so that every field can be checked by hand.
func tinyConfig() Config {
	return Config{
		FrameSize:           8,
		ThresholdWindowSize: 4,
		ThresholdMultiplier: 1.5,
		TempoWindowSize:     2,
		SubBandCount:        4,
	}
}

func newDetector(t *testing.T, cfg Config, opts ...Option) *Detector {
	t.Helper()
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	return d
}

func frameOf(n int, v byte) []byte {
	f := make([]byte, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestScenarioSpikeBecomesPeak(t *testing.T) {
	d := newDetector(t, tinyConfig())
	frames := [][]byte{
		{0, 0, 0, 0, 0, 0, 0, 0},
		{5, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0},
		{5, 0, 0, 0, 0, 0, 0, 0},
	}
	for i, f := range frames {
		require.NoError(t, d.Ingest(f, float64(i)))
	}

	wantFlux := []float64{0, 5, 0, 0, 5}
	for i, want := range wantFlux {
		s, err := d.SampleAt(i)
		require.NoError(t, err)
		assert.Equal(t, want, s.SpectralFlux, "flux at %d", i)
	}

	s4, err := d.SampleAt(4)
	require.NoError(t, err)
	assert.Equal(t, Pending, s4.IsPeak.State(), "peak needs the right neighbour first")

	// Two quiet frames finalize the spike.
	require.NoError(t, d.Ingest(frameOf(8, 0), 5))
	require.NoError(t, d.Ingest(frameOf(8, 0), 6))

	s4, err = d.SampleAt(4)
	require.NoError(t, err)
	threshold, ok := s4.Threshold.Get()
	require.True(t, ok)
	assert.InDelta(t, 1.875, threshold, 1e-9)
	pruned, ok := s4.PrunedFlux.Get()
	require.True(t, ok)
	assert.InDelta(t, 3.125, pruned, 1e-9)
	assert.True(t, s4.Peak())

	for _, i := range []int{0, 1, 2, 3} {
		s, err := d.SampleAt(i)
		require.NoError(t, err)
		assert.False(t, s.Peak(), "sample %d", i)
		assert.True(t, s.IsPeak.Resolved(), "sample %d", i)
	}

	// The spike at index 1 sits in the lead-in and never gets a threshold.
	s1, err := d.SampleAt(1)
	require.NoError(t, err)
	assert.Equal(t, Undefined, s1.Threshold.State())
}

func TestScenarioTempo(t *testing.T) {
	d := newDetector(t, tinyConfig())
	frames := [][]byte{
		frameOf(8, 0), {5, 0, 0, 0, 0, 0, 0, 0}, frameOf(8, 0), frameOf(8, 0),
		{5, 0, 0, 0, 0, 0, 0, 0}, frameOf(8, 0), frameOf(8, 0), frameOf(8, 0),
	}
	for i, f := range frames {
		require.NoError(t, d.Ingest(f, float64(i)))
	}

	// Frontier samples before W*T samples exist get no estimate.
	for i := 2; i <= 5; i++ {
		s, err := d.SampleAt(i)
		require.NoError(t, err)
		assert.Equal(t, Undefined, s.Tempo.State(), "sample %d", i)
	}

	// One peak (index 4) over [0, 6) spanning five seconds.
	s6, err := d.SampleAt(6)
	require.NoError(t, err)
	tempo, ok := s6.Tempo.Get()
	require.True(t, ok)
	assert.InDelta(t, 12.0, tempo, 1e-9)
}

func TestThresholdWarmUpGating(t *testing.T) {
	d := newDetector(t, DefaultConfig(16))
	for i := 0; i < 29; i++ {
		require.NoError(t, d.Ingest(frameOf(16, byte(i)), float64(i)))
	}

	s, err := d.SampleAt(15)
	require.NoError(t, err)
	assert.Equal(t, Pending, s.Threshold.State())
	assert.Equal(t, Pending, s.PrunedFlux.State())
	assert.Equal(t, Pending, s.IsPeak.State())
	_, ok := d.LatestFinalized()
	assert.False(t, ok)
	_, ok = d.EstimatedTempo()
	assert.False(t, ok)

	require.NoError(t, d.Ingest(frameOf(16, 0), 29))
	s, err = d.SampleAt(15)
	require.NoError(t, err)
	assert.Equal(t, Ready, s.Threshold.State())
	assert.Equal(t, Ready, s.PrunedFlux.State())
	assert.Equal(t, 16, d.Frontier())

	latest, ok := d.LatestFinalized()
	require.True(t, ok)
	assert.Equal(t, 14, latest.Index)
	assert.True(t, latest.Finalized())
}

func TestFrontierAdvancesOncePerIngest(t *testing.T) {
	cfg := DefaultConfig(16)
	d := newDetector(t, cfg)
	w := cfg.ThresholdWindowSize
	for n := 1; n <= 200; n++ {
		require.NoError(t, d.Ingest(frameOf(16, byte(n%7)), float64(n)/60))
		if n < w {
			assert.Equal(t, w/2, d.Frontier(), "before warm-up at n=%d", n)
			continue
		}
		assert.Equal(t, w/2+(n-w+1), d.Frontier(), "n=%d", n)
	}
}

func TestRejectsNonMonotonicTimestamp(t *testing.T) {
	d := newDetector(t, tinyConfig())
	require.NoError(t, d.Ingest(frameOf(8, 1), 0))
	require.NoError(t, d.Ingest(frameOf(8, 2), 1))

	err := d.Ingest(frameOf(8, 3), 0.5)
	require.ErrorIs(t, err, ErrNonMonotonicTimestamp)
	assert.Equal(t, 2, d.Len())

	err = d.Ingest(frameOf(8, 3), math.NaN())
	require.ErrorIs(t, err, ErrNonMonotonicTimestamp)
	assert.Equal(t, 2, d.Len())

	// A stalled clock is not a violation.
	require.NoError(t, d.Ingest(frameOf(8, 3), 1))
	assert.Equal(t, 3, d.Len())

	// The rejected frame did not become the previous frame.
	s, err := d.SampleAt(2)
	require.NoError(t, err)
	assert.Equal(t, 8.0, s.SpectralFlux)
}

func TestStalledClockLeavesTempoUndefined(t *testing.T) {
	var finalized []Sample
	d := newDetector(t, tinyConfig(), WithObserver(func(s Sample) {
		finalized = append(finalized, s)
	}))

	// Well past W*T frames, all at one instant, with spikes so peaks exist.
	for i := range 20 {
		v := byte(0)
		if i%3 == 0 {
			v = 200
		}
		require.NoError(t, d.Ingest(frameOf(8, v), 7))
	}

	require.NotEmpty(t, finalized)
	for _, s := range finalized {
		require.Equal(t, Undefined, s.Tempo.State(), "sample %d", s.Index)
		tempo, ok := s.Tempo.Get()
		assert.False(t, ok)
		assert.False(t, math.IsNaN(tempo) || math.IsInf(tempo, 0))
	}
	_, ok := d.EstimatedTempo()
	assert.False(t, ok)

	latest, ok := d.LatestFinalized()
	require.True(t, ok)
	assert.True(t, latest.Finalized(), "an undefined tempo still finalizes the sample")
}

func TestRejectsInvalidFrameLength(t *testing.T) {
	d := newDetector(t, tinyConfig())
	err := d.Ingest(make([]byte, 7), 0)
	require.ErrorIs(t, err, ErrInvalidFrameLength)
	assert.Equal(t, 0, d.Len())

	require.NoError(t, d.Ingest(frameOf(8, 4), 0))
	s, err := d.SampleAt(0)
	require.NoError(t, err)
	assert.Equal(t, 32.0, s.SpectralFlux)
}

func TestSampleAtOutOfRange(t *testing.T) {
	d := newDetector(t, tinyConfig())
	_, err := d.SampleAt(0)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	require.NoError(t, d.Ingest(frameOf(8, 0), 0))
	_, err = d.SampleAt(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = d.SampleAt(1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = d.SampleAt(0)
	require.NoError(t, err)
}

func TestIngestCopiesPreviousFrame(t *testing.T) {
	d := newDetector(t, tinyConfig())
	buf := frameOf(8, 10)
	require.NoError(t, d.Ingest(buf, 0))

	// Reusing the caller buffer must not change what the detector compares to.
	for i := range buf {
		buf[i] = 0
	}
	require.NoError(t, d.Ingest(frameOf(8, 10), 1))

	s, err := d.SampleAt(1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.SpectralFlux)
}

func TestConstantInputHasNoPeaks(t *testing.T) {
	d := newDetector(t, DefaultConfig(32))
	for i := 0; i < 400; i++ {
		require.NoError(t, d.Ingest(frameOf(32, 100), float64(i)/60))
	}

	latest, ok := d.LatestFinalized()
	require.True(t, ok)
	for i := 0; i <= latest.Index; i++ {
		s, err := d.SampleAt(i)
		require.NoError(t, err)
		assert.False(t, s.Peak(), "sample %d", i)
		if i > 0 {
			assert.Equal(t, 0.0, s.SpectralFlux)
		}
	}
}

func TestTempoConvergesToSpikeRate(t *testing.T) {
	const (
		frameSize = 64
		fps       = 60.0
		interval  = 30 // Frames between spikes: 0.5s, 120 per minute.
	)
	d := newDetector(t, DefaultConfig(frameSize))
	quiet := frameOf(frameSize, 0)
	spike := frameOf(frameSize, 200)

	for i := 0; i < 1500; i++ {
		f := quiet
		if i%interval == 20 {
			f = spike
		}
		require.NoError(t, d.Ingest(f, float64(i)/fps))
	}

	tempo, ok := d.EstimatedTempo()
	require.True(t, ok)
	assert.InEpsilon(t, 60/(interval/fps), tempo, 0.05)
}

func TestPeakLocalityAndFluxInvariants(t *testing.T) {
	cfg := DefaultConfig(37) // Remainder bins land in the last band.
	d := newDetector(t, cfg)
	rng := rand.New(rand.NewSource(7))
	frame := make([]byte, cfg.FrameSize)

	for i := 0; i < 900; i++ {
		for k := range frame {
			frame[k] = byte(rng.Intn(256))
		}
		require.NoError(t, d.Ingest(frame, float64(i)/60))
	}

	latest, ok := d.LatestFinalized()
	require.True(t, ok)
	for i := d.Oldest(); i <= latest.Index; i++ {
		s, err := d.SampleAt(i)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, s.SpectralFlux, 0.0)
		var sum float64
		for _, b := range s.SubBandFlux {
			assert.GreaterOrEqual(t, b, 0.0)
			sum += b
		}
		assert.InDelta(t, s.SpectralFlux, sum, 1e-9)
		assert.True(t, s.Finalized(), "sample %d", i)

		if !s.Peak() {
			continue
		}
		prev, err := d.SampleAt(i - 1)
		require.NoError(t, err)
		next, err := d.SampleAt(i + 1)
		require.NoError(t, err)
		cur, _ := s.PrunedFlux.Get()
		left, ok := prev.PrunedFlux.Get()
		require.True(t, ok)
		right, ok := next.PrunedFlux.Get()
		require.True(t, ok)
		assert.Greater(t, cur, left)
		assert.Greater(t, cur, right)
	}
}

func TestDerivedFieldsAreStable(t *testing.T) {
	d := newDetector(t, DefaultConfig(16))
	rng := rand.New(rand.NewSource(3))
	frame := make([]byte, 16)
	ingest := func(n int) {
		for i := 0; i < n; i++ {
			for k := range frame {
				frame[k] = byte(rng.Intn(256))
			}
			require.NoError(t, d.Ingest(frame, float64(d.Len())/60))
		}
	}

	ingest(100)
	first, err := d.SampleAt(40)
	require.NoError(t, err)
	require.True(t, first.Finalized())

	ingest(300)
	again, err := d.SampleAt(40)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestBoundedHistoryMatchesLargeHistory(t *testing.T) {
	small := tinyConfig()
	small.Retention = small.MinRetention()
	large := tinyConfig()
	large.Retention = 4096

	ds := newDetector(t, small)
	dl := newDetector(t, large)
	rng := rand.New(rand.NewSource(11))
	frame := make([]byte, 8)
	for i := 0; i < 500; i++ {
		for k := range frame {
			frame[k] = byte(rng.Intn(64))
		}
		require.NoError(t, ds.Ingest(frame, float64(i)*0.02))
		require.NoError(t, dl.Ingest(frame, float64(i)*0.02))
	}

	require.Greater(t, ds.Oldest(), 0)
	for i := ds.Oldest(); i < ds.Len(); i++ {
		a, err := ds.SampleAt(i)
		require.NoError(t, err)
		b, err := dl.SampleAt(i)
		require.NoError(t, err)
		assert.Equal(t, b, a, "sample %d", i)
	}

	_, err := ds.SampleAt(0)
	require.ErrorIs(t, err, ErrSampleEvicted)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	ts, okS := ds.EstimatedTempo()
	tl, okL := dl.EstimatedTempo()
	assert.Equal(t, okL, okS)
	assert.Equal(t, tl, ts)
}

func TestObserverSeesEveryFinalizedSampleInOrder(t *testing.T) {
	var seen []Sample
	d := newDetector(t, DefaultConfig(16), WithObserver(func(s Sample) {
		seen = append(seen, s)
	}))
	for i := 0; i < 120; i++ {
		require.NoError(t, d.Ingest(frameOf(16, byte(i*13)), float64(i)/60))
	}

	require.Len(t, seen, d.Frontier()-1)
	for i, s := range seen {
		assert.Equal(t, i, s.Index)
		assert.True(t, s.Finalized(), "sample %d", i)
	}
}

func TestResetClearsHistory(t *testing.T) {
	d := newDetector(t, tinyConfig())
	for i := 0; i < 20; i++ {
		require.NoError(t, d.Ingest(frameOf(8, byte(i)), float64(i)))
	}
	d.Reset()

	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 2, d.Frontier())
	_, ok := d.LatestFinalized()
	assert.False(t, ok)

	require.NoError(t, d.Ingest(frameOf(8, 3), 0))
	s, err := d.SampleAt(0)
	require.NoError(t, err)
	assert.Equal(t, 24.0, s.SpectralFlux)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"Defaults", func(c *Config) {}, true},
		{"Zero frame size", func(c *Config) { c.FrameSize = 0 }, false},
		{"Window too small", func(c *Config) { c.ThresholdWindowSize = 1 }, false},
		{"Zero multiplier", func(c *Config) { c.ThresholdMultiplier = 0 }, false},
		{"NaN multiplier", func(c *Config) { c.ThresholdMultiplier = math.NaN() }, false},
		{"Zero tempo window", func(c *Config) { c.TempoWindowSize = 0 }, false},
		{"More bands than bins", func(c *Config) { c.SubBandCount = 17 }, false},
		{"Short retention", func(c *Config) { c.Retention = 10 }, false},
		{"Exact retention", func(c *Config) { c.Retention = c.MinRetention() }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(16)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			_, err = New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestIngestHotPathZeroAllocs(t *testing.T) {
	d := newDetector(t, DefaultConfig(1024))
	frame := make([]byte, 1024)
	ts := 0.0
	for i := 0; i < 700; i++ {
		frame[i%1024] = byte(i)
		ts += 1.0 / 60
		require.NoError(t, d.Ingest(frame, ts))
	}

	allocs := testing.AllocsPerRun(100, func() {
		ts += 1.0 / 60
		_ = d.Ingest(frame, ts)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Ingest hot path, got %.1f", allocs)
	}
}

func BenchmarkIngest(b *testing.B) {
	d, err := New(DefaultConfig(1024))
	if err != nil {
		b.Fatal(err)
	}
	frames := [2][]byte{frameOf(1024, 40), frameOf(1024, 90)}
	ts := 0.0

	b.ReportAllocs()
	for b.Loop() {
		ts += 1.0 / 60
		_ = d.Ingest(frames[int(ts*60)%2], ts)
	}
}
