// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"

	"beatflux/internal/config"
	"beatflux/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected on the command line.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandAnalyze = "analyze"
)

// Options is the outcome of argument parsing.
type Options struct {
	Config      *config.Config
	Files       []string // Files passed to analyze.
	Interactive bool     // list: open the device picker.
}

// flagValues holds raw flag values. Only flags set on the command line
// override the configuration file.
type flagValues struct {
	configPath      string
	deviceID        int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	record          bool
	outputFile      string
	verbose         bool
	monitor         bool
	jobs            int
	json            bool
	interactive     bool
}

// ParseArgs parses args (without the program name) and loads the
// configuration they point at.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetInfo()
	opts := &Options{}
	var flags flagValues

	load := func(cmd *cobra.Command, command string) error {
		cfg, err := config.LoadConfig(flags.configPath)
		if err != nil {
			return err
		}
		if err := flags.apply(cmd, cfg); err != nil {
			return err
		}
		cfg.Command = command
		opts.Config = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return load(cmd, CommandRun)
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Interactive = flags.interactive
			return load(cmd, CommandList)
		},
	}
	listCmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false,
		"Pick a device and sample rate, then print the matching config")
	rootCmd.AddCommand(listCmd)

	// Analyze command
	analyzeCmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Detect onsets and estimate tempo in WAV or MP3 files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Files = args
			return load(cmd, CommandAnalyze)
		},
	}
	analyzeCmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 0,
		"Number of files analysed concurrently")
	analyzeCmd.Flags().BoolVar(&flags.json, "json", false,
		"Print reports as JSON")
	rootCmd.AddCommand(analyzeCmd)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Path to config.yaml (default: ./config.yaml when present)")

	// Audio Device Configuration
	rootCmd.PersistentFlags().IntVarP(&flags.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	rootCmd.PersistentFlags().IntVarP(&flags.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture, onsets use the first")
	rootCmd.PersistentFlags().Float64VarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")

	rootCmd.PersistentFlags().IntVarP(&flags.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer, one spectrum frame each")
	rootCmd.PersistentFlags().BoolVarP(&flags.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")

	// Recording Configuration
	rootCmd.PersistentFlags().BoolVarP(&flags.record, "record", "r", false,
		"Record audio from the specified input device")
	rootCmd.PersistentFlags().StringVarP(&flags.outputFile, "output", "o", "",
		"Output file name. Default is beatflux-YYYYMMDD-HHMMSS.wav")

	// Display
	rootCmd.PersistentFlags().BoolVarP(&flags.monitor, "monitor", "m", false,
		"Show the terminal onset monitor")

	// Debug Configuration
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if opts.Config == nil {
		// --help or --version
		return nil, ErrNothingToRun
	}
	return opts, nil
}

// ErrNothingToRun is returned when cobra handled the invocation itself.
var ErrNothingToRun = errors.New("nothing to run")

// apply copies flags set on the command line into cfg and re-validates.
func (f *flagValues) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("device") {
		cfg.Audio.InputDevice = f.deviceID
	}
	if changed("channels") {
		cfg.Audio.InputChannels = f.channels
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = f.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = f.lowLatency
	}
	if changed("record") {
		cfg.Recording.Enabled = f.record
	}
	if changed("output") {
		cfg.Recording.OutputFile = f.outputFile
	}
	if changed("monitor") {
		cfg.Monitor = f.monitor
	}
	if changed("verbose") {
		cfg.Debug = f.verbose
	}
	if changed("jobs") {
		cfg.Analyze.Jobs = f.jobs
	}
	if changed("json") {
		cfg.Analyze.JSON = f.json
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
