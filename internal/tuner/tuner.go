// SPDX-License-Identifier: MIT
/*
Package tuner is the display side of the strobe tuner. A Tuner ticks at the
display rate, takes the newest analysis message from the capture controller,
advances the strobe channels and publishes a Frame to its sinks.

The strobe state is only touched here, never by the capture loop. Freezing
pauses capture and keeps republishing the last readings with their phase
held.
*/
package tuner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"strobe/internal/analysis"
	"strobe/internal/audio"
	"strobe/internal/capture"
	"strobe/internal/config"
	"strobe/internal/log"
	"strobe/internal/pitch"
	"strobe/internal/strobe"
	"strobe/pkg/bitint"
)

// DefaultTargetMidi is the note wheel's starting target, A4.
const DefaultTargetMidi = 69

// ErrBufferLimit is returned when the buffer size cannot grow or shrink
// further.
var ErrBufferLimit = errors.New("buffer size limit reached")

// Controller is the part of capture.Controller the tuner drives.
type Controller interface {
	Latest() (capture.Message, bool)
	State() capture.State
	Config() audio.StreamConfig
	Pause() error
	Resume() error
	Reconfigure(bufferSize int) error
	Done() <-chan struct{}
	Err() error
}

// Sink receives every published Frame.
type Sink interface {
	Send(data any) error
}

// Recorder receives display metrics. *observe.Metrics implements it.
type Recorder interface {
	DisplayTick(frozen bool)
}

// Frame is what the tuner publishes on every display tick.
type Frame struct {
	Seq        uint64           `json:"seq"` // Analysis message the readings came from
	Time       time.Time        `json:"time"`
	State      string           `json:"state"`
	Frozen     bool             `json:"frozen"`
	SampleRate float64          `json:"sample_rate"`
	BufferSize int              `json:"buffer_size"`
	TargetMidi float64          `json:"target_midi"`
	Spectrum   []analysis.Bin   `json:"spectrum,omitempty"`
	Peaks      analysis.PeakSet `json:"peaks"`
	Readings   []strobe.Reading `json:"readings"`
}

// StrobeReadings returns the per-channel readings.
func (f Frame) StrobeReadings() []strobe.Reading {
	return f.Readings
}

// Options configure a Tuner.
type Options struct {
	Params       strobe.Params
	Channels     int
	TickInterval time.Duration
	Band         analysis.Band // Zero value selects analysis.DisplayBand
	Sinks        []Sink
	Recorder     Recorder
}

// OptionsFrom builds Options from the strobe section of the config.
func OptionsFrom(s config.StrobeConfig) Options {
	return Options{
		Params: strobe.Params{
			MaxSpeed:          s.MaxSpeed,
			StripWidth:        s.StripWidth,
			ReferenceInterval: s.ReferenceInterval,
		},
		Channels:     s.Channels,
		TickInterval: s.TickInterval(),
	}
}

// Tuner owns the strobe channels of one session.
type Tuner struct {
	ctrl     Controller
	interval time.Duration
	band     analysis.Band
	sinks    []Sink
	rec      Recorder

	// opMu serializes calls into the controller.
	opMu sync.Mutex

	mu         sync.Mutex
	strobes    *strobe.Synchronizer
	frozen     bool
	targetMidi float64
	last       Frame
}

// New returns a tuner driving ctrl.
func New(ctrl Controller, opts Options) (*Tuner, error) {
	if ctrl == nil {
		return nil, errors.New("tuner: controller cannot be nil")
	}
	if opts.TickInterval <= 0 {
		return nil, fmt.Errorf("tuner: tick interval must be positive, got %v", opts.TickInterval)
	}
	s, err := strobe.NewSynchronizer(opts.Params, opts.Channels)
	if err != nil {
		return nil, fmt.Errorf("tuner: %w", err)
	}
	band := opts.Band
	if band == (analysis.Band{}) {
		band = analysis.DisplayBand
	}
	return &Tuner{
		ctrl:       ctrl,
		interval:   opts.TickInterval,
		band:       band,
		sinks:      opts.Sinks,
		rec:        opts.Recorder,
		strobes:    s,
		targetMidi: DefaultTargetMidi,
	}, nil
}

// AddSink registers another sink. Call before Run.
func (t *Tuner) AddSink(s Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// Run ticks until ctx is cancelled or the controller closes. A controller
// closed by a device error is reported as that error.
func (t *Tuner) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	log.Infof("Tuner: Ticking every %s with %d channels", t.interval, t.Channels())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.ctrl.Done():
			if err := t.ctrl.Err(); err != nil {
				return fmt.Errorf("capture stopped: %w", err)
			}
			return nil
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Tick advances the strobe channels with the newest message and publishes
// the resulting frame. While frozen, the last readings are republished
// unchanged.
func (t *Tuner) Tick() Frame {
	msg, ok := t.ctrl.Latest()
	state := t.ctrl.State()

	t.mu.Lock()
	var readings []strobe.Reading
	if !t.frozen && ok {
		readings = t.strobes.Tick(msg.Peaks, msg.BufferDuration())
	} else {
		readings = t.strobes.Readings()
	}

	frame := Frame{
		Seq:        msg.Seq,
		Time:       time.Now(),
		State:      state.String(),
		Frozen:     t.frozen,
		SampleRate: msg.Stream.SampleRate,
		BufferSize: msg.Stream.BufferSize,
		TargetMidi: t.targetMidi,
		Spectrum:   msg.Snapshot.Zoom(t.band),
		Peaks:      msg.Peaks,
		Readings:   readings,
	}
	t.last = frame
	sinks := t.sinks
	t.mu.Unlock()

	for _, s := range sinks {
		if err := s.Send(frame); err != nil {
			log.Warnf("Tuner: Sink %T rejected frame %d: %v", s, frame.Seq, err)
		}
	}
	if t.rec != nil {
		t.rec.DisplayTick(frame.Frozen)
	}
	return frame
}

// Last returns the most recently published frame.
func (t *Tuner) Last() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Channels returns the number of strobe channels.
func (t *Tuner) Channels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strobes.Len()
}

// Frozen reports whether input is frozen.
func (t *Tuner) Frozen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frozen
}

// ToggleFreeze pauses or resumes capture and returns the new frozen state.
// Strobe phases are kept across the pause.
func (t *Tuner) ToggleFreeze() (bool, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	frozen := t.Frozen()
	var err error
	if frozen {
		err = t.ctrl.Resume()
	} else {
		err = t.ctrl.Pause()
	}
	if err != nil {
		return frozen, err
	}

	t.mu.Lock()
	t.frozen = !frozen
	t.mu.Unlock()
	log.Infof("Tuner: Input frozen=%v", !frozen)
	return !frozen, nil
}

// BufferIncrease doubles the capture buffer size.
func (t *Tuner) BufferIncrease() (int, error) {
	return t.resize(func(n int) (int, bool) { return bitint.Double(n, config.MaxBufferFrames) })
}

// BufferDecrease halves the capture buffer size.
func (t *Tuner) BufferDecrease() (int, error) {
	return t.resize(func(n int) (int, bool) { return bitint.Halve(n, config.MinBufferFrames) })
}

// resize reconfigures capture. Reconfiguring always resumes streaming, so a
// frozen tuner is unfrozen.
func (t *Tuner) resize(next func(int) (int, bool)) (int, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	current := t.ctrl.Config().BufferSize
	size, ok := next(current)
	if !ok {
		return current, fmt.Errorf("buffer size %d: %w", current, ErrBufferLimit)
	}
	if err := t.ctrl.Reconfigure(size); err != nil {
		return current, err
	}

	t.mu.Lock()
	t.frozen = false
	t.mu.Unlock()
	return size, nil
}

// SetTargetMidi fixes every channel to the given MIDI note.
func (t *Tuner) SetTargetMidi(midi float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.strobes.SetTargetMidi(midi); err != nil {
		return err
	}
	t.targetMidi = midi
	return nil
}

// SetNote picks a note of the target's octave, semitone 0 being C.
func (t *Tuner) SetNote(semitone int) error {
	if semitone < 0 || semitone > 11 {
		return fmt.Errorf("semitone %d outside [0, 11]", semitone)
	}
	t.mu.Lock()
	octave := int(math.Floor(math.Round(t.targetMidi)/12)) - 1
	t.mu.Unlock()
	return t.SetTargetMidi(float64(pitch.SemitoneToMidi(semitone, octave)))
}

// Transpose moves the note wheel by semitones and shifts every manual
// channel with it. It returns the new target.
func (t *Tuner) Transpose(semitones int) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.targetMidi + float64(semitones)
	if _, err := pitch.MidiToFrequency(next); err != nil {
		return t.targetMidi, err
	}
	t.targetMidi = next
	t.strobes.Transpose(float64(semitones))
	return next, nil
}

// TargetMidi returns the note wheel target.
func (t *Tuner) TargetMidi() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetMidi
}

// SetTarget fixes channel ch to a frequency.
func (t *Tuner) SetTarget(ch int, frequency float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strobes.SetTarget(ch, frequency)
}

// AutoTarget returns channel ch to tracking the nearest semitone.
func (t *Tuner) AutoTarget(ch int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strobes.AutoTarget(ch)
}

// AutoTargetAll returns every channel to auto mode.
func (t *Tuner) AutoTargetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strobes.AutoTargetAll()
}

// Channel returns a copy of strobe channel i.
func (t *Tuner) Channel(i int) (strobe.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strobes.Channel(i)
}
