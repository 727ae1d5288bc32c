// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"beatflux/cmd"
	"beatflux/internal/analysis"
	"beatflux/internal/audio"
	"beatflux/internal/config"
	"beatflux/internal/log"
	"beatflux/internal/report"
	"beatflux/internal/transport"
	"beatflux/internal/transport/udp"
	"beatflux/internal/tui"
	"beatflux/pkg/build"
)

var logger = log.New("main")

// main is the entry point for beatflux.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Execute one-off commands (list, analyze) if requested
//   - Build the analyser, detector and transports
//
// 2. Concurrent Phase (Hot Path):
//   - Begin input stream processing
//   - Start recording if enabled
//   - Publish finalized samples and show the monitor
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop recording if active
//   - Clean up resources
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		logger.Fatalf("%v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if errors.Is(err, cmd.ErrNothingToRun) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg := opts.Config
	log.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Command {
	case cmd.CommandList:
		err = listDevices(opts.Interactive)
	case cmd.CommandAnalyze:
		err = analyzeFiles(ctx, cfg, opts.Files)
	default:
		err = run(ctx, cfg)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// listDevices prints the host devices, or runs the picker and prints the
// chosen settings as YAML.
func listDevices(interactive bool) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if !interactive {
		return audio.ListDevices(os.Stdout)
	}
	sel, err := tui.SelectDevice()
	if err != nil {
		return err
	}
	if !sel.OK {
		return nil
	}
	out, err := sel.YAML()
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s", sel.Device.Name, out)
	return nil
}

// analyzeFiles runs the offline analysis and prints one report per file.
func analyzeFiles(ctx context.Context, cfg *config.Config, files []string) error {
	results := report.AnalyzeAll(ctx, files, cfg, cfg.Analyze.Jobs)

	var failed []error
	if cfg.Analyze.JSON {
		reports := make([]*report.Report, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, r.Err)
				continue
			}
			reports = append(reports, r.Report)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("failed to encode reports: %w", err)
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, r.Err)
				continue
			}
			fmt.Println(r.Report.Summary())
		}
	}
	return errors.Join(failed...)
}

// run captures live audio until ctx is done or the monitor exits.
func run(ctx context.Context, cfg *config.Config) error {
	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to audio engine (time-critical)
	// - One thread for UI and I/O operations
	runtime.GOMAXPROCS(2)

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	windowFunc, err := analysis.ParseWindowFunc(cfg.Audio.FFTWindow)
	if err != nil {
		logger.Warnf("%v, using %s", err, windowFunc)
	}
	analyser, err := analysis.NewSpectrumAnalyser(analysis.SpectrumConfig{
		FFTSize:     cfg.Audio.FFTSize,
		SampleRate:  cfg.Audio.SampleRate,
		Window:      windowFunc,
		Smoothing:   cfg.Audio.Smoothing,
		MinDecibels: cfg.Audio.MinDecibels,
		MaxDecibels: cfg.Audio.MaxDecibels,
	})
	if err != nil {
		return err
	}

	sinks := transport.Fanout{transport.NewLoggingTransport()}
	if cfg.Transport.WebSocketEnabled {
		wst := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress, cfg.Transport.WebSocketMaxRate)
		wst.Start()
		sinks = append(sinks, wst)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warnf("closing transports: %v", err)
		}
	}()

	processor, err := analysis.NewOnsetProcessor(analyser, cfg.DetectorConfig(), sinks)
	if err != nil {
		return err
	}
	defer processor.Close()

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		defer sender.Close()
		publisher, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, processor)
		if err != nil {
			return err
		}
		publisher.Start()
		defer publisher.Close()
	}

	engine, err := audio.NewEngine(&cfg.Audio, processor)
	if err != nil {
		return err
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// CRITICAL: Start of real-time audio processing
	// The first call to StartInputStream triggers PortAudio to begin
	// calling the callback function, marking the start of the hot path
	if err := engine.StartInputStream(); err != nil {
		return err
	}

	recordingPath := ""
	if cfg.Recording.Enabled {
		recordingPath = audio.RecordingPath(cfg.Recording, time.Now())
		if err := engine.StartRecording(recordingPath); err != nil {
			_ = engine.Close()
			return err
		}
	}

	// A fatal pipeline error ends the session like a signal does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-processor.Failed():
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Monitor {
		if err := tui.RunMonitor(ctx, processor, 0, cfg.MonitorLog, tui.WithGate(engine)); err != nil {
			logger.Errorf("monitor: %v", err)
		}
	} else {
		logger.Infof("listening, press Ctrl+C to stop ('%s --help' for usage)", build.GetInfo().Name)
		<-ctx.Done()
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := engine.Close(); err != nil {
		logger.Errorf("closing audio engine: %v", err)
	}
	if recordingPath != "" {
		fmt.Printf("\nRecording saved to: %s\n", recordingPath)
	}

	blocks, gated := engine.GateStats()
	snap := processor.Snapshot()
	logger.Infof("processed %d blocks (%d gated) over %.1fs, %d onsets, %d dropped",
		blocks, gated, processor.Elapsed(), snap.Peaks, processor.Dropped())
	return processor.Err()
}
