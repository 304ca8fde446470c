// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync"
	"time"

	"github.com/go-audio/audio"
)

// ToneSource generates a continuous sine tone in place of an input device.
// With Paced set, each read waits for the buffer duration like a real device.
type ToneSource struct {
	Frequency float64 // Hz
	Amplitude float64 // Fraction of full scale
	Paced     bool
}

// NewToneSource returns a paced tone source.
func NewToneSource(frequency, amplitude float64) *ToneSource {
	return &ToneSource{Frequency: frequency, Amplitude: amplitude, Paced: true}
}

// Open starts a new tone stream at phase zero.
func (s *ToneSource) Open(cfg StreamConfig) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &toneStream{
		cfg:       cfg,
		format:    cfg.Format(),
		buffer:    make([]int16, cfg.BufferSize),
		step:      2 * math.Pi * s.Frequency / cfg.SampleRate,
		amplitude: max(0, min(s.Amplitude, 1)) * math.MaxInt16,
		paced:     s.Paced,
		next:      time.Now(),
	}, nil
}

type toneStream struct {
	mu        sync.Mutex
	cfg       StreamConfig
	format    *audio.Format
	buffer    []int16
	phase     float64
	step      float64
	amplitude float64
	paced     bool
	next      time.Time
	closed    bool
}

func (s *toneStream) Config() StreamConfig {
	return s.cfg
}

func (s *toneStream) ReadFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Frame{}, ErrStreamClosed
	}

	if s.paced {
		s.next = s.next.Add(s.cfg.BufferDuration())
		time.Sleep(time.Until(s.next))
	}

	for i := range s.buffer {
		s.buffer[i] = int16(math.Round(s.amplitude * math.Sin(s.phase)))
		s.phase += s.step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)

	return Frame{Samples: s.buffer, Format: s.format}, nil
}

func (s *toneStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
