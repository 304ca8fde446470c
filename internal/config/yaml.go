// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"strobe/internal/log"
	"strobe/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "strobe.yaml"

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Capture and analysis settings.
	Strobe    StrobeConfig    `yaml:"strobe"`    // Strobe display model settings.
	Transport TransportConfig `yaml:"transport"` // Render collaborator transports.
	Metrics   MetricsConfig   `yaml:"metrics"`   // Prometheus exporter.
	Simulate  SimulateConfig  `yaml:"simulate"`  // Synthetic tone instead of a device.
}

// AudioConfig holds settings related to audio capture and spectral analysis.
type AudioConfig struct {
	InputDevice int     `yaml:"input_device"` // PortAudio device index for audio input (-1 for default).
	SampleRate  float64 `yaml:"sample_rate"`  // Sample rate in Hz (e.g., 44100, 48000).
	BufferSize  int     `yaml:"buffer_size"`  // Frames per analysis cycle, a power of two.
	Channels    int     `yaml:"channels"`     // Capture channel count; only mono is supported.
	LowLatency  bool    `yaml:"low_latency"`  // Request low latency settings from PortAudio device.
	FFTWindow   string  `yaml:"fft_window"`   // Window applied before the FFT ("none", "hann", ...).
	PeakCount   int     `yaml:"peak_count"`   // Number of spectral peaks kept per cycle.
}

// StrobeConfig holds the strobe phase model settings.
type StrobeConfig struct {
	Channels          int           `yaml:"channels"`           // Number of strobe channels.
	MaxSpeed          float64       `yaml:"max_speed"`          // Phase units per tick at one semitone deviation.
	StripWidth        float64       `yaml:"strip_width"`        // Width of the strobe strip in phase units.
	ReferenceInterval time.Duration `yaml:"reference_interval"` // Buffer duration at which speed scale is 1.
	DisplayRate       float64       `yaml:"display_rate"`       // Display ticks per second.
}

// TransportConfig holds settings related to sending processed data over the network.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Broadcast tuner frames over WebSocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address for the WebSocket server.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending spectrum snapshots over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// SimulateConfig replaces the input device with a generated sine tone.
type SimulateConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Frequency float64 `yaml:"frequency"` // Hz
	Amplitude float64 `yaml:"amplitude"` // Fraction of full scale, (0, 1].
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice: DefaultDeviceID,
			SampleRate:  DefaultSampleRate,
			BufferSize:  DefaultBufferSize,
			Channels:    DefaultChannels,
			LowLatency:  DefaultLowLatency,
			FFTWindow:   DefaultFFTWindow,
			PeakCount:   DefaultPeakCount,
		},
		Strobe: StrobeConfig{
			Channels:          DefaultStrobeChannels,
			MaxSpeed:          DefaultMaxSpeed,
			StripWidth:        DefaultStripWidth,
			ReferenceInterval: DefaultReferenceInterval,
			DisplayRate:       DefaultDisplayRate,
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddress: DefaultWebSocketAddress,
			UDPEnabled:       false,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
		},
		Simulate: SimulateConfig{
			Enabled:   false,
			Frequency: DefaultSimulateFrequency,
			Amplitude: DefaultSimulateAmplitude,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it looks for DefaultPath in the working directory and falls back
// to the built-in defaults when that is absent. Environment overrides are
// applied after the file, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks every section against the hardware and processing limits.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not recognized", c.LogLevel))
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device must be >= %d", MinDeviceID))
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if err := ValidateBufferSize(a.BufferSize); err != nil {
		errs = append(errs, fmt.Errorf("audio.buffer_size: %w", err))
	}
	if a.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1, got %d", a.Channels))
	}
	if a.PeakCount < 1 {
		errs = append(errs, errors.New("audio.peak_count must be positive"))
	}

	s := c.Strobe
	if s.Channels < 0 || s.Channels > MaxStrobeChannels {
		errs = append(errs, fmt.Errorf("strobe.channels must be within [0, %d]", MaxStrobeChannels))
	}
	if !(s.MaxSpeed >= 0) || math.IsInf(s.MaxSpeed, 1) {
		errs = append(errs, errors.New("strobe.max_speed must be finite and not negative"))
	}
	if !(s.StripWidth > 0) || math.IsInf(s.StripWidth, 1) {
		errs = append(errs, errors.New("strobe.strip_width must be finite and positive"))
	}
	if s.ReferenceInterval <= 0 {
		errs = append(errs, errors.New("strobe.reference_interval must be positive"))
	}
	if s.DisplayRate < MinDisplayRate || s.DisplayRate > MaxDisplayRate {
		errs = append(errs, fmt.Errorf("strobe.display_rate must be within [%.0f, %.0f]", MinDisplayRate, MaxDisplayRate))
	}

	t := c.Transport
	if t.WebSocketEnabled && t.WebSocketAddress == "" {
		errs = append(errs, errors.New("transport.websocket_address must be set when WebSocket is enabled"))
	}
	if t.UDPEnabled {
		if t.UDPTargetAddress == "" {
			errs = append(errs, errors.New("transport.udp_target_address must be set when UDP is enabled"))
		} else if !strings.Contains(t.UDPTargetAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress))
		}
		if t.UDPSendInterval <= 0 {
			errs = append(errs, errors.New("transport.udp_send_interval must be positive when UDP is enabled"))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address must be set when metrics are enabled"))
	}

	if c.Simulate.Enabled {
		if c.Simulate.Frequency <= 0 || c.Simulate.Frequency >= a.SampleRate/2 {
			errs = append(errs, errors.New("simulate.frequency must be within (0, sample_rate/2)"))
		}
		if c.Simulate.Amplitude <= 0 || c.Simulate.Amplitude > 1 {
			errs = append(errs, errors.New("simulate.amplitude must be within (0, 1]"))
		}
	}

	return errors.Join(errs...)
}

// ValidateBufferSize reports whether n is a power of two within
// [MinBufferFrames, MaxBufferFrames].
func ValidateBufferSize(n int) error {
	if !bitint.IsPowerOfTwo(n) {
		return fmt.Errorf("%d is not a power of two", n)
	}
	if n < MinBufferFrames || n > MaxBufferFrames {
		return fmt.Errorf("%d outside [%d, %d]", n, MinBufferFrames, MaxBufferFrames)
	}
	return nil
}

// applyEnvOverrides applies STROBE_* environment variables on top of the
// loaded values. Unparseable values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	envString("STROBE_LOG_LEVEL", &c.LogLevel)

	envInt("STROBE_INPUT_DEVICE", &c.Audio.InputDevice)
	envFloat("STROBE_SAMPLE_RATE", &c.Audio.SampleRate)
	envInt("STROBE_BUFFER_SIZE", &c.Audio.BufferSize)
	envString("STROBE_FFT_WINDOW", &c.Audio.FFTWindow)
	envInt("STROBE_PEAK_COUNT", &c.Audio.PeakCount)

	envInt("STROBE_STROBE_CHANNELS", &c.Strobe.Channels)
	envFloat("STROBE_MAX_SPEED", &c.Strobe.MaxSpeed)

	envBool("STROBE_WEBSOCKET_ENABLED", &c.Transport.WebSocketEnabled)
	envString("STROBE_WEBSOCKET_ADDRESS", &c.Transport.WebSocketAddress)
	envBool("STROBE_UDP_ENABLED", &c.Transport.UDPEnabled)
	envString("STROBE_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envDuration("STROBE_UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)

	envBool("STROBE_METRICS_ENABLED", &c.Metrics.Enabled)
	envString("STROBE_METRICS_ADDRESS", &c.Metrics.Address)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		log.Debugf("Config: Overriding %s from env: %s", key, val)
	}
}

func envBool(key string, dst *bool) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			log.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = b
		log.Debugf("Config: Overriding %s from env: %v", key, b)
	}
}

func envInt(key string, dst *int) {
	if val, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = n
		log.Debugf("Config: Overriding %s from env: %d", key, n)
	}
}

func envFloat(key string, dst *float64) {
	if val, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = f
		log.Debugf("Config: Overriding %s from env: %g", key, f)
	}
}

func envDuration(key string, dst *time.Duration) {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = d
		log.Debugf("Config: Overriding %s from env: %s", key, d)
	}
}
