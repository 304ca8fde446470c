// SPDX-License-Identifier: MIT
/*
Package audio captures mono 16-bit PCM from an input device one fixed-size
buffer at a time.

A Source opens Streams; a Stream hands out Frames with a blocking read that
returns after roughly one buffer duration. Device failures surface as
*DeviceError so the caller decides whether to retry or abort, and a closed
Stream always answers ErrStreamClosed.

Thread Safety:
  - A Stream is read by a single goroutine.
  - Close may be called from any goroutine and is idempotent.
  - The Samples slice of a Frame is reused by the next ReadFrame call.
  - Close ends a ReadFrame blocked on another goroutine.
*/
package audio

import (
	"errors"
	"fmt"
	"time"

	"strobe/internal/config"

	"github.com/go-audio/audio"
)

// BitDepth of every captured sample.
const BitDepth = 16

var (
	// ErrStreamClosed is returned when reading from a closed stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrReadStalled is returned when a blocked read outlives the bound of
	// two buffer durations.
	ErrReadStalled = errors.New("read stalled")
)

// minReadWait is the smallest wait applied to a read bound, so that tiny
// buffers still leave room for scheduling.
const minReadWait = 50 * time.Millisecond

// DeviceError reports a failure of the underlying audio device.
type DeviceError struct {
	Op  string // "open", "start", "read", "close", ...
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Source opens capture streams.
type Source interface {
	Open(cfg StreamConfig) (Stream, error)
}

// Stream is one open capture stream.
type Stream interface {
	// ReadFrame blocks until one full buffer is available.
	ReadFrame() (Frame, error)
	// Close releases the device. Safe to call more than once.
	Close() error
	Config() StreamConfig
}

// StreamConfig describes the stream a Source should open.
type StreamConfig struct {
	DeviceID   int
	SampleRate float64
	BufferSize int
	Channels   int
	LowLatency bool
}

// StreamConfigFrom builds a StreamConfig from the audio section of the
// application config.
func StreamConfigFrom(a config.AudioConfig) StreamConfig {
	return StreamConfig{
		DeviceID:   a.InputDevice,
		SampleRate: a.SampleRate,
		BufferSize: a.BufferSize,
		Channels:   a.Channels,
		LowLatency: a.LowLatency,
	}
}

// Validate checks the config against the capture limits.
func (c StreamConfig) Validate() error {
	if c.SampleRate < config.MinSampleRate || c.SampleRate > config.MaxSampleRate {
		return fmt.Errorf("sample rate %.0f outside [%d, %d]", c.SampleRate, config.MinSampleRate, config.MaxSampleRate)
	}
	if err := config.ValidateBufferSize(c.BufferSize); err != nil {
		return fmt.Errorf("buffer size: %w", err)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channel count must be 1, got %d", c.Channels)
	}
	return nil
}

// WithBufferSize returns a copy of c using n frames per buffer.
func (c StreamConfig) WithBufferSize(n int) StreamConfig {
	c.BufferSize = n
	return c
}

// BufferDuration is the wall-clock length of one buffer.
func (c StreamConfig) BufferDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.BufferSize) / c.SampleRate * float64(time.Second))
}

// ReadWait is how long a read may take before the device is considered
// stalled: two buffer durations, and at least minReadWait.
func (c StreamConfig) ReadWait() time.Duration {
	return max(2*c.BufferDuration(), minReadWait)
}

// Format returns the go-audio format of frames produced under c.
func (c StreamConfig) Format() *audio.Format {
	return &audio.Format{NumChannels: c.Channels, SampleRate: int(c.SampleRate)}
}

// Frame is one buffer of mono samples. Samples may alias the stream's own
// buffer, so a Frame is only valid until the next ReadFrame on its stream.
// Consumers that keep samples past that point must copy them, as IntBuffer
// does.
type Frame struct {
	Samples []int16
	Format  *audio.Format
}

// Len returns the number of samples.
func (f Frame) Len() int {
	return len(f.Samples)
}

// SampleRate returns the frame's sample rate in Hz, zero if unknown.
func (f Frame) SampleRate() float64 {
	if f.Format == nil {
		return 0
	}
	return float64(f.Format.SampleRate)
}

// IntBuffer copies the frame into a go-audio IntBuffer.
func (f Frame) IntBuffer() *audio.IntBuffer {
	data := make([]int, len(f.Samples))
	for i, s := range f.Samples {
		data[i] = int(s)
	}
	return &audio.IntBuffer{Format: f.Format, Data: data, SourceBitDepth: BitDepth}
}
