// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"strobe/internal/analysis"
	"strobe/internal/config"
	"strobe/internal/pitch"
	"strobe/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Commands selected on the command line.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandVersion = "version"
)

// Options is the parsed command line. Command is empty when cobra already
// answered the invocation itself, e.g. for --help.
type Options struct {
	Command     string
	Config      *config.Config
	Headless    bool
	Interactive bool // list: pick a device in the TUI
	TargetMidi  float64
	HasTarget   bool
}

// flagValues holds the raw flags until the config file has been loaded.
type flagValues struct {
	configPath string
	device     int
	sampleRate float64
	bufferSize int
	peaks      int
	strobes    int
	maxSpeed   float64
	target     string
	window     string
	simulate   float64
	logLevel   string
	websocket  string
	udp        string
	metrics    string
}

// ParseArgs parses args (without the program name) into Options. Flags
// override the config file, which overrides the built-in defaults.
func ParseArgs(args []string, out io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return resolve(cmd.Flags(), &fv, options)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the tuner (default)",
		Args:  cobra.NoArgs,
		RunE:  rootCmd.RunE,
	}
	rootCmd.AddCommand(runCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandList
			return resolve(cmd.Flags(), &fv, options)
		},
	}
	listCmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false,
		"Pick a device and sample rate interactively, then start the tuner")
	rootCmd.AddCommand(listCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandVersion
			fmt.Fprintln(cmd.OutOrStdout(), buildInfo.String())
		},
	}
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()

	// Configuration file
	flags.StringVarP(&fv.configPath, "config", "c", "",
		"Path to a YAML config file (default "+config.DefaultPath+" if present)")

	// Audio Device Configuration
	flags.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&fv.bufferSize, "buffer-size", "b", config.DefaultBufferSize,
		"Frames per analysis cycle, a power of two")

	// Analysis and strobe
	flags.IntVarP(&fv.peaks, "peaks", "p", config.DefaultPeakCount,
		"Number of spectral peaks kept per cycle")
	flags.IntVar(&fv.strobes, "strobes", config.DefaultStrobeChannels,
		"Number of strobe channels")
	flags.Float64Var(&fv.maxSpeed, "max-speed", config.DefaultMaxSpeed,
		"Strobe phase change per tick at one semitone of deviation")
	flags.StringVarP(&fv.target, "target", "t", "",
		"Fix every strobe to a note (e.g. A4, Bb2) or a frequency in Hz")
	flags.StringVar(&fv.window, "window", config.DefaultFFTWindow,
		"Analysis window: none, hann, hamming, blackman")

	// Input simulation and output
	flags.Float64Var(&fv.simulate, "simulate", 0,
		"Replace the input device with a sine tone of this frequency in Hz")
	flags.BoolVar(&options.Headless, "headless", false,
		"Log readings instead of showing the terminal strobe")
	flags.StringVar(&fv.websocket, "websocket", "",
		"Serve tuner frames over WebSocket on this address (e.g. :8080)")
	flags.StringVar(&fv.udp, "udp", "",
		"Send spectrum packets over UDP to this address (e.g. 127.0.0.1:9090)")
	flags.StringVar(&fv.metrics, "metrics", "",
		"Serve Prometheus metrics on this address (e.g. :9464)")

	// Debug Configuration
	flags.StringVarP(&fv.logLevel, "log-level", "l", "",
		"Log level: debug, info, warn, error")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}

// resolve loads the config file and applies the flags the user set.
func resolve(flags *pflag.FlagSet, fv *flagValues, options *Options) error {
	cfg, err := config.LoadConfig(fv.configPath)
	if err != nil {
		return err
	}

	if flags.Changed("device") {
		cfg.Audio.InputDevice = fv.device
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if flags.Changed("buffer-size") {
		cfg.Audio.BufferSize = fv.bufferSize
	}
	if flags.Changed("peaks") {
		cfg.Audio.PeakCount = fv.peaks
	}
	if flags.Changed("strobes") {
		cfg.Strobe.Channels = fv.strobes
	}
	if flags.Changed("max-speed") {
		cfg.Strobe.MaxSpeed = fv.maxSpeed
	}
	if flags.Changed("window") {
		if _, err := analysis.ParseWindowFunc(fv.window); err != nil {
			return err
		}
		cfg.Audio.FFTWindow = fv.window
	}
	if flags.Changed("simulate") {
		cfg.Simulate.Enabled = true
		cfg.Simulate.Frequency = fv.simulate
	}
	if flags.Changed("websocket") {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = fv.websocket
	}
	if flags.Changed("udp") {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = fv.udp
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = fv.metrics
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	options.Config = cfg

	if fv.target != "" {
		midi, err := ParseTarget(fv.target)
		if err != nil {
			return err
		}
		options.TargetMidi = midi
		options.HasTarget = true
	}
	return nil
}

// ParseTarget reads a note name such as "A4" or a frequency in Hz and
// returns it as a MIDI number.
func ParseTarget(s string) (float64, error) {
	s = strings.TrimSpace(s)
	num := strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "hz"))
	if hz, err := strconv.ParseFloat(num, 64); err == nil {
		midi, ok := pitch.FrequencyToMidiCents(hz).Value()
		if !ok {
			return 0, fmt.Errorf("target %q: %w", s, pitch.ErrUndefinedPitch)
		}
		return midi, nil
	}
	midi, err := pitch.NoteNameToMidi(s)
	if err != nil {
		return 0, errors.Join(fmt.Errorf("target %q is neither a note nor a frequency", s), err)
	}
	return float64(midi), nil
}
