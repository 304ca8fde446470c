// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"strobe/internal/log"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudioSource opens blocking PortAudio input streams. PortAudio must be
// initialized with Initialize for as long as the source is in use.
type PortAudioSource struct{}

// NewPortAudioSource returns a Source backed by PortAudio.
func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// Open resolves the device, opens a blocking int16 input stream and starts
// it. Anything the device rejects is returned as *DeviceError.
func (s *PortAudioSource) Open(cfg StreamConfig) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}

	latency := device.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	buffer := make([]int16, cfg.BufferSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: cfg.Channels,
			Device:   device,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: cfg.BufferSize,
		SampleRate:      cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &DeviceError{Op: "start", Err: err}
	}

	log.Infof("Capture: Opened %q at %.0f Hz, %d frames (%s per buffer, latency %s)",
		device.Name, cfg.SampleRate, cfg.BufferSize, cfg.BufferDuration(), latency.Round(time.Microsecond))

	return &portAudioStream{
		stream: stream,
		buffer: buffer,
		format: cfg.Format(),
		cfg:    cfg,
	}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
	format *audio.Format
	cfg    StreamConfig

	// readMu is held for the length of one Read. Close never waits on it
	// directly: it aborts the stream so the read returns, and the handle is
	// released once readMu is free.
	readMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioStream) Config() StreamConfig {
	return s.cfg
}

// ReadFrame blocks for one buffer. An input overflow means the device
// discarded samples before this buffer; it is logged and the buffer is still
// delivered.
func (s *portAudioStream) ReadFrame() (Frame, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.closed.Load() {
		return Frame{}, ErrStreamClosed
	}

	err := s.stream.Read()
	if s.closed.Load() {
		return Frame{}, ErrStreamClosed
	}
	if err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return Frame{}, &DeviceError{Op: "read", Err: err}
		}
		log.Warnf("Capture: Input overflowed, samples were lost before this buffer")
	}

	return Frame{Samples: s.buffer, Format: s.format}, nil
}

// Close aborts the stream, which ends a blocked Read, and releases the
// handle once that read has returned. If the read is still blocked after
// ReadWait it reports an error and the handle is released later.
func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		abortErr := s.stream.Abort()

		released := make(chan error, 1)
		go func() {
			s.readMu.Lock()
			defer s.readMu.Unlock()
			released <- s.stream.Close()
		}()

		select {
		case closeErr := <-released:
			if err := errors.Join(abortErr, closeErr); err != nil {
				s.closeErr = &DeviceError{Op: "close", Err: err}
				return
			}
			log.Debugf("Capture: Stream closed")
		case <-time.After(s.cfg.ReadWait()):
			s.closeErr = &DeviceError{Op: "close", Err: ErrReadStalled}
		}
	})
	return s.closeErr
}
