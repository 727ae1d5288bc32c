// SPDX-License-Identifier: MIT
// Package report runs audio files through the onset pipeline offline and
// summarizes the detected peaks.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beatflux/internal/analysis"
	"beatflux/internal/audio"
	"beatflux/internal/config"
	"beatflux/internal/log"
	"beatflux/internal/onset"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/remeh/sizedwaitgroup"
)

var logger = log.New("report")

// Peak is one detected onset.
type Peak struct {
	Index    int     `json:"index"`    // Sample (analysis frame) index.
	Offset   int     `json:"offset"`   // Audio frames from the start of the file.
	MsOffset int     `json:"msOffset"` // Milliseconds from the start of the file.
	Flux     float64 `json:"flux"`
}

// Report describes the onsets found in one file.
type Report struct {
	File       string        `json:"file"`
	Format     string        `json:"format"`
	Size       int64         `json:"size"`
	SampleRate int           `json:"sampleRate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"-"`
	Seconds    float64       `json:"durationSeconds"`
	Frames     int           `json:"frames"`    // Spectrum frames analysed.
	Finalized  int           `json:"finalized"` // Frames with every field resolved.
	Peaks      []Peak        `json:"peaks"`
	Tempo      *float64      `json:"tempo"` // Peaks per minute at the last finalized frame.
}

// collector receives finalized samples from the processor.
type collector struct {
	framesPerBuffer int
	sampleRate      int
	finalized       int
	peaks           []Peak
	tempo           *float64
}

func (c *collector) Send(data any) error {
	s, ok := data.(onset.Sample)
	if !ok {
		return nil
	}
	c.finalized++
	c.tempo = nil
	if tempo, ok := s.Tempo.Get(); ok {
		c.tempo = &tempo
	}
	if s.Peak() {
		offset := s.Index * c.framesPerBuffer
		c.peaks = append(c.peaks, Peak{
			Index:    s.Index,
			Offset:   offset,
			MsOffset: offset * 1000 / c.sampleRate,
			Flux:     s.SpectralFlux,
		})
	}
	return nil
}

func (c *collector) Close() error { return nil }

// Analyze decodes path and runs it through an analyser and detector built
// from cfg. The analyser runs at the file's own sample rate.
func Analyze(ctx context.Context, path string, cfg *config.Config) (*Report, error) {
	src, err := audio.LoadFile(path)
	if err != nil {
		return nil, err
	}

	windowFunc, err := analysis.ParseWindowFunc(cfg.Audio.FFTWindow)
	if err != nil {
		logger.Warnf("%v, using %s", err, windowFunc)
	}
	analyser, err := analysis.NewSpectrumAnalyser(analysis.SpectrumConfig{
		FFTSize:     cfg.Audio.FFTSize,
		SampleRate:  float64(src.SampleRate),
		Window:      windowFunc,
		Smoothing:   cfg.Audio.Smoothing,
		MinDecibels: cfg.Audio.MinDecibels,
		MaxDecibels: cfg.Audio.MaxDecibels,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	sink := &collector{framesPerBuffer: cfg.Audio.FramesPerBuffer, sampleRate: src.SampleRate}
	proc, err := analysis.NewOnsetProcessor(analyser, cfg.DetectorConfig(), sink)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer proc.Close()

	frames, err := src.Stream(ctx, cfg.Audio.FramesPerBuffer, proc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := proc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r := &Report{
		File:       path,
		Format:     src.Format,
		SampleRate: src.SampleRate,
		Channels:   src.Channels,
		Duration:   src.Duration(),
		Seconds:    src.Duration().Seconds(),
		Frames:     frames,
		Finalized:  sink.finalized,
		Peaks:      sink.peaks,
		Tempo:      sink.tempo,
	}
	if r.Peaks == nil {
		r.Peaks = []Peak{}
	}
	if info, err := os.Stat(path); err == nil {
		r.Size = info.Size()
	}
	return r, nil
}

// Result pairs a file with its report or error.
type Result struct {
	Path   string
	Report *Report
	Err    error
}

// AnalyzeAll analyses paths with at most jobs files in flight. Results keep
// the order of paths.
func AnalyzeAll(ctx context.Context, paths []string, cfg *config.Config, jobs int) []Result {
	results := make([]Result, len(paths))
	swg := sizedwaitgroup.New(max(1, jobs))
	for i, path := range paths {
		if err := swg.AddWithContext(ctx); err != nil {
			results[i] = Result{Path: path, Err: err}
			continue
		}
		go func(i int, path string) {
			defer swg.Done()
			start := time.Now()
			r, err := Analyze(ctx, path, cfg)
			results[i] = Result{Path: path, Report: r, Err: err}
			logger.Debugf("analysed %s in %s", path, time.Since(start))
		}(i, path)
	}
	swg.Wait()
	return results
}

// Summary renders a one-line human description of the report.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", filepath.Base(r.File), durafmt.Parse(r.Duration.Round(time.Millisecond)).LimitFirstN(2))
	fmt.Fprintf(&b, ", %s %s", humanize.SIWithDigits(float64(r.SampleRate), 1, "Hz"), r.Format)
	if r.Size > 0 {
		fmt.Fprintf(&b, ", %s", humanize.Bytes(uint64(r.Size)))
	}
	fmt.Fprintf(&b, ", %s frames, %s onsets", humanize.Comma(int64(r.Frames)), humanize.Comma(int64(len(r.Peaks))))
	if r.Tempo != nil {
		fmt.Fprintf(&b, ", tempo %.1f/min", *r.Tempo)
	} else {
		b.WriteString(", tempo undefined")
	}
	return b.String()
}
