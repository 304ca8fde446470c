// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"strobe/cmd"
	"strobe/internal/analysis"
	"strobe/internal/audio"
	"strobe/internal/capture"
	"strobe/internal/config"
	"strobe/internal/log"
	"strobe/internal/observe"
	"strobe/internal/transport"
	"strobe/internal/transport/udp"
	"strobe/internal/tui"
	"strobe/internal/tuner"
	"strobe/pkg/build"

	"golang.org/x/sync/errgroup"
)

const (
	headlessLogInterval = time.Second
	readHeaderTimeout   = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// main is the entry point for the strobe tuner.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load the config
//   - Initialize PortAudio unless the input is simulated
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start the capture controller
//   - Run the tuner display loop and its collaborators
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals or a lost device
//   - Stop collaborators, then release the stream
func main() {
	if err := run(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("Build: %v, using development build info", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		return err
	}
	if opts.Command == "" || opts.Command == cmd.CommandVersion {
		return nil
	}
	cfg := opts.Config
	log.SetLevelString(cfg.LogLevel)

	needsDevice := opts.Command == cmd.CommandList || !cfg.Simulate.Enabled
	if needsDevice {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer func() {
			if err := audio.Terminate(); err != nil {
				log.Warnf("Audio: %v", err)
			}
		}()
	}

	if opts.Command == cmd.CommandList {
		if !opts.Interactive {
			return audio.ListDevices(os.Stdout)
		}
		sel, err := tui.RunDevicePicker()
		if err != nil || !sel.Chosen {
			return err
		}
		cfg.Audio.InputDevice = sel.DeviceID
		cfg.Audio.SampleRate = sel.SampleRate
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	return session(opts)
}

// session runs one tuning session until a signal, the user quitting or the
// capture device failing.
func session(opts *cmd.Options) error {
	cfg := opts.Config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider *observe.Provider
	metrics := observe.DefaultMetrics()
	if cfg.Metrics.Enabled {
		var err error
		provider, err = observe.InitProvider(observe.ProviderConfig{
			ServiceVersion: build.GetBuildFlags().Version,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Warnf("Metrics: %v", err)
			}
		}()
		if metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
			return err
		}
	}

	ctrl, err := newController(cfg, metrics)
	if err != nil {
		return err
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if err := ctrl.Start(audio.StreamConfigFrom(cfg.Audio)); err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Terminate(); err != nil {
			log.Warnf("Capture: %v", err)
		}
	}()

	tunerOpts := tuner.OptionsFrom(cfg.Strobe)
	tunerOpts.Recorder = metrics
	tn, err := tuner.New(ctrl, tunerOpts)
	if err != nil {
		return err
	}
	if opts.HasTarget {
		if err := tn.SetTargetMidi(opts.TargetMidi); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	health := transport.HealthHandler(func() (string, error) {
		return ctrl.State().String(), ctrl.Err()
	})

	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(tn.ApplyJSON)
		defer ws.Close()
		tn.AddSink(ws)

		mux := http.NewServeMux()
		mux.Handle("/ws", ws)
		mux.Handle("GET /healthz", health)
		srv := &http.Server{Addr: cfg.Transport.WebSocketAddress, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		g.Go(func() error { return transport.Serve(gctx, srv) })
	}

	if provider != nil {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", provider.Handler())
		mux.Handle("GET /healthz", health)
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		g.Go(func() error { return transport.Serve(gctx, srv) })
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		defer sender.Close()
		publisher, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, ctrl)
		if err != nil {
			return err
		}
		g.Go(func() error { return publisher.Run(gctx) })
	}

	if opts.Headless {
		tn.AddSink(transport.NewLoggingTransport(headlessLogInterval))
	} else {
		restore, err := logToFile()
		if err != nil {
			return err
		}
		defer restore()
		g.Go(func() error {
			err := tui.RunStrobeUI(gctx, tn)
			// Quitting the view ends the session.
			stop()
			return err
		})
	}

	g.Go(func() error { return tn.Run(gctx) })

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Infof("Session ended after %d analysis cycles", lastSeq(ctrl))
	return err
}

func newController(cfg *config.Config, rec capture.Recorder) (*capture.Controller, error) {
	window, err := analysis.ParseWindowFunc(cfg.Audio.FFTWindow)
	if err != nil {
		return nil, err
	}
	analyzer, err := analysis.NewAnalyzer(cfg.Audio.PeakCount, window)
	if err != nil {
		return nil, err
	}

	var source audio.Source = audio.NewPortAudioSource()
	if cfg.Simulate.Enabled {
		log.Infof("Audio: Simulating a %.1f Hz tone", cfg.Simulate.Frequency)
		source = audio.NewToneSource(cfg.Simulate.Frequency, cfg.Simulate.Amplitude)
	}
	return capture.NewController(source, analyzer, rec)
}

func lastSeq(ctrl *capture.Controller) uint64 {
	msg, _ := ctrl.Latest()
	return msg.Seq
}

// logToFile moves logging off the terminal while the strobe view owns it.
func logToFile() (func(), error) {
	path := filepath.Join(os.TempDir(), build.GetBuildFlags().Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
		log.Debugf("Logs of the session were written to %s", path)
	}, nil
}
