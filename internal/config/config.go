// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"beatflux/internal/log"
	"beatflux/internal/onset"
	"beatflux/pkg/bitint"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Core configuration constants that define the boundaries and defaults
// for the capture and analysis pipeline.
const (
	DefaultChannels        = 1     // Mono audio
	DefaultDeviceID        = -1    // System default input device
	DefaultFramesPerBuffer = 1024  // One analysis frame per buffer
	DefaultSampleRate      = 44100 // CD-quality audio
	DefaultFFTSize         = 2048  // Gives 1024 frequency bins per frame
	DefaultFFTWindow       = "Blackman"
	DefaultSmoothing       = 0.8   // Analyser smoothing time constant
	DefaultMinDecibels     = -100  // Maps to byte 0
	DefaultMaxDecibels     = -30   // Maps to byte 255
	DefaultGateThreshold   = 0.001 // ~0.1% of full scale

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxFFTSize      = 32768  // Largest analyser FFT size
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug      bool            `yaml:"debug"`       // Enable debug logging.
	LogLevel   string          `yaml:"log_level"`   // Logging level ("debug", "info", "warn", "error").
	Command    string          `yaml:"-"`           // One-off command selected on the command line.
	Monitor    bool            `yaml:"monitor"`     // Show the terminal monitor while capturing.
	MonitorLog string          `yaml:"monitor_log"` // Log file while the monitor runs, empty discards logs.
	Audio      AudioConfig     `yaml:"audio"`       // Capture and spectrum settings.
	Onset      onset.Config    `yaml:"onset"`       // Onset detector settings, frame size is derived from the FFT size.
	Recording  RecordingConfig `yaml:"recording"`   // WAV recording of the input stream.
	Transport  TransportConfig `yaml:"transport"`   // Sinks for finalized samples.
	Analyze    AnalyzeConfig   `yaml:"analyze"`     // Offline analysis of audio files.
}

// AudioConfig holds settings related to audio input and spectrum analysis.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per processing buffer, one spectrum frame each.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Number of input channels to capture; analysis uses the first.
	FFTSize         int     `yaml:"fft_size"`          // Analyser FFT size (power of 2), frames carry FFTSize/2 bins.
	FFTWindow       string  `yaml:"fft_window"`        // Window function name (e.g., "Blackman", "Hann").
	Smoothing       float64 `yaml:"smoothing"`         // Smoothing time constant in [0, 1).
	MinDecibels     float64 `yaml:"min_decibels"`      // Level mapped to byte 0.
	MaxDecibels     float64 `yaml:"max_decibels"`      // Level mapped to byte 255.
	GateEnabled     bool    `yaml:"gate_enabled"`      // Treat quiet buffers as silence.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Gate level as a fraction of full scale.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Enable audio recording to file.
	OutputDir  string `yaml:"output_dir"`  // Directory for generated file names.
	OutputFile string `yaml:"output_file"` // Explicit output path, generated when empty.
}

// TransportConfig holds settings related to publishing finalized samples.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Broadcast samples as JSON over WebSocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address for the WebSocket server.
	WebSocketMaxRate float64       `yaml:"websocket_max_rate"` // Non-peak samples per second, peaks always pass.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending packed samples over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// AnalyzeConfig holds settings for offline file analysis.
type AnalyzeConfig struct {
	Jobs int  `yaml:"jobs"` // Files analysed concurrently.
	JSON bool `yaml:"json"` // Print reports as JSON.
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		MonitorLog: "beatflux.log",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultChannels,
			FFTSize:         DefaultFFTSize,
			FFTWindow:       DefaultFFTWindow,
			Smoothing:       DefaultSmoothing,
			MinDecibels:     DefaultMinDecibels,
			MaxDecibels:     DefaultMaxDecibels,
			GateEnabled:     true,
			GateThreshold:   DefaultGateThreshold,
		},
		Onset: onset.DefaultConfig(DefaultFFTSize / 2),
		Recording: RecordingConfig{
			OutputDir: ".",
		},
		Transport: TransportConfig{
			WebSocketAddress: ":8080",
			WebSocketMaxRate: 30,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  16 * time.Millisecond, // ~60Hz.
		},
		Analyze: AnalyzeConfig{
			Jobs: 4,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. A ".env" file next to the configuration (or in the working directory) is
// loaded into the environment first, then ENV_* variables override file values and
// the final configuration is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Onset.FrameSize = cfg.FrameSize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads the .env file beside the config file. Variables already
// set in the process environment win.
func loadDotEnv(configPath string) error {
	envPath := ".env"
	if configPath != "" {
		envPath = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if err := godotenv.Load(envPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	log.Debugf("configuration: loaded environment from %s", envPath)
	return nil
}

// FrameSize returns the number of frequency bins per analyser frame.
func (c *Config) FrameSize() int {
	return c.Audio.FFTSize / 2
}

// DetectorConfig returns the onset detector configuration for this pipeline.
func (c *Config) DetectorConfig() onset.Config {
	oc := c.Onset
	oc.FrameSize = c.FrameSize()
	return oc
}

// Level returns the effective log level. Debug mode forces LevelDebug.
func (c *Config) Level() log.LogLevel {
	if c.Debug {
		return log.LevelDebug
	}
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	a := c.Audio
	if a.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device must be >= %d, got %d", MinDeviceID, a.InputDevice)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate must be in [%d, %d], got %.0f", MinSampleRate, MaxSampleRate, a.SampleRate)
	}
	if !bitint.IsPowerOfTwo(a.FramesPerBuffer) || a.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer must be a power of 2 up to %d, got %d", MaxBufferFrames, a.FramesPerBuffer)
	}
	if a.InputChannels < 1 {
		return fmt.Errorf("audio.input_channels must be positive, got %d", a.InputChannels)
	}
	if !bitint.IsPowerOfTwo(a.FFTSize) || a.FFTSize < 32 || a.FFTSize > MaxFFTSize {
		return fmt.Errorf("audio.fft_size must be a power of 2 in [32, %d], got %d", MaxFFTSize, a.FFTSize)
	}
	if a.Smoothing < 0 || a.Smoothing >= 1 {
		return fmt.Errorf("audio.smoothing must be in [0, 1), got %v", a.Smoothing)
	}
	if a.MinDecibels >= a.MaxDecibels {
		return fmt.Errorf("audio.min_decibels (%v) must be below audio.max_decibels (%v)", a.MinDecibels, a.MaxDecibels)
	}
	if a.GateThreshold < 0 || a.GateThreshold > 1 {
		return fmt.Errorf("audio.gate_threshold must be in [0, 1], got %v", a.GateThreshold)
	}
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not recognized", c.LogLevel)
	}
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}

	t := c.Transport
	if t.WebSocketEnabled && t.WebSocketAddress == "" {
		return fmt.Errorf("transport.websocket_address must be set when WebSocket is enabled")
	}
	if t.UDPEnabled {
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if c.Analyze.Jobs < 1 {
		return fmt.Errorf("analyze.jobs must be positive, got %d", c.Analyze.Jobs)
	}
	return nil
}

// applyEnvOverrides applies ENV_* variables on top of file values. Values
// that fail to parse are ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			log.Debugf("configuration: overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok && val != "" {
		c.LogLevel = val
		log.Debugf("configuration: overriding log_level from env: %s", val)
	}
	// ENV_THRESHOLD_MULTIPLIER
	if val, ok := os.LookupEnv("ENV_THRESHOLD_MULTIPLIER"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			c.Onset.ThresholdMultiplier = fVal
			log.Debugf("configuration: overriding onset.threshold_multiplier from env: %v", fVal)
		}
	}

	// ENV_WS_{...}

	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.WebSocketEnabled = bVal
			log.Debugf("configuration: overriding transport.websocket_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok && val != "" {
		c.Transport.WebSocketAddress = val
		log.Debugf("configuration: overriding transport.websocket_address from env: %s", val)
	}

	// ENV_UDP_{...}

	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			log.Debugf("configuration: overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok && val != "" {
		c.Transport.UDPTargetAddress = val
		log.Debugf("configuration: overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			log.Debugf("configuration: overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
