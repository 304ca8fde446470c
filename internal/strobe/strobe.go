// SPDX-License-Identifier: MIT
/*
Package strobe models the strip of a strobe tuner. Every tick each channel's
pattern is shifted in proportion to how far its pitch is from the target, so a
stationary pattern means in tune and a fast one means far off.

Phase persists across ticks and is only reset to zero by Reset.
*/
package strobe

import (
	"errors"
	"fmt"
	"math"
	"time"

	"strobe/internal/analysis"
	"strobe/internal/pitch"
)

// ErrChannelRange is returned for channel indexes outside the channel set.
var ErrChannelRange = errors.New("channel out of range")

// Params are the fixed model parameters.
type Params struct {
	// MaxSpeed is the phase change per tick at one semitone of deviation and
	// speed scale 1.
	MaxSpeed float64
	// StripWidth is the width of the strip in phase units.
	StripWidth float64
	// ReferenceInterval is the buffer duration at which speed scale is 1.
	ReferenceInterval time.Duration
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if !(p.MaxSpeed >= 0) || math.IsInf(p.MaxSpeed, 1) {
		return fmt.Errorf("max speed must be finite and not negative, got %v", p.MaxSpeed)
	}
	if !(p.StripWidth > 0) || math.IsInf(p.StripWidth, 1) {
		return fmt.Errorf("strip width must be finite and positive, got %v", p.StripWidth)
	}
	if p.ReferenceInterval <= 0 {
		return fmt.Errorf("reference interval must be positive, got %v", p.ReferenceInterval)
	}
	return nil
}

// SpeedScale normalizes drift against the buffer duration the deltas were
// measured over. A non-positive duration yields zero.
func (p Params) SpeedScale(bufferDuration time.Duration) float64 {
	if bufferDuration <= 0 {
		return 0
	}
	return float64(p.ReferenceInterval) / float64(bufferDuration)
}

// SegmentWidth is the width of one light/dark segment pair for a channel of
// the given order.
func (p Params) SegmentWidth(order int) float64 {
	return p.StripWidth / float64(2*(order+1))
}

// Channel is the state of one strobe.
type Channel struct {
	Order        int
	Phase        float64
	SegmentWidth float64
	Target       pitch.Target
}

// Advance moves the phase by delta*maxSpeed*speedScale and wraps it into
// [0, SegmentWidth). An undefined delta leaves the phase unchanged.
func (c *Channel) Advance(delta pitch.Pitch, maxSpeed, speedScale float64) {
	d, ok := delta.Value()
	if !ok {
		return
	}
	c.Phase = wrap(c.Phase+d*maxSpeed*speedScale, c.SegmentWidth)
}

func wrap(x, width float64) float64 {
	p := math.Mod(x, width)
	if p < 0 {
		p += width
	}
	if p >= width {
		// -tiny + width rounds up to width.
		p = 0
	}
	return p
}

// Reading is the published state of one channel after a tick.
type Reading struct {
	Channel      int         `json:"channel"`
	Order        int         `json:"order"`
	Active       bool        `json:"active"` // A peak was assigned this tick
	Frequency    float64     `json:"frequency"`
	Magnitude    float64     `json:"magnitude"`
	Note         string      `json:"note"`
	TargetNote   string      `json:"target_note"`
	Manual       bool        `json:"manual"`
	Delta        pitch.Pitch `json:"delta"` // Semitones
	Phase        float64     `json:"phase"`
	SegmentWidth float64     `json:"segment_width"`
}

// Cents returns the deviation in cents.
func (r Reading) Cents() (float64, bool) {
	return r.Delta.Cents()
}

// Synchronizer owns the channel set. It is not safe for concurrent use.
type Synchronizer struct {
	params   Params
	channels []Channel
	readings []Reading
}

// NewSynchronizer returns a synchronizer with count channels at phase zero.
func NewSynchronizer(params Params, count int) (*Synchronizer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("channel count must not be negative, got %d", count)
	}
	s := &Synchronizer{params: params}
	s.Reset(count)
	return s, nil
}

// Params returns the model parameters.
func (s *Synchronizer) Params() Params {
	return s.params
}

// Len returns the number of channels.
func (s *Synchronizer) Len() int {
	return len(s.channels)
}

// Reset rebuilds the channel set with count channels. Channel i has order i,
// phase zero and an auto target.
func (s *Synchronizer) Reset(count int) {
	count = max(count, 0)
	s.channels = make([]Channel, count)
	s.readings = make([]Reading, count)
	for i := range s.channels {
		s.channels[i] = Channel{
			Order:        i,
			SegmentWidth: s.params.SegmentWidth(i),
			Target:       pitch.AutoTarget(),
		}
		s.readings[i] = Reading{
			Channel:      i,
			Order:        i,
			Note:         pitch.UnknownNote,
			TargetNote:   pitch.UnknownNote,
			SegmentWidth: s.channels[i].SegmentWidth,
		}
	}
}

// Channel returns a copy of channel i.
func (s *Synchronizer) Channel(i int) (Channel, error) {
	if i < 0 || i >= len(s.channels) {
		return Channel{}, fmt.Errorf("channel %d: %w", i, ErrChannelRange)
	}
	return s.channels[i], nil
}

// Tick assigns the strongest Len() peaks to the channels in ascending order,
// so the last channel follows the strongest peak, and advances every channel
// with a defined delta. Channels without a peak keep their phase. The buffer
// duration is that of the capture that produced peaks.
func (s *Synchronizer) Tick(peaks analysis.PeakSet, bufferDuration time.Duration) []Reading {
	scale := s.params.SpeedScale(bufferDuration)
	assigned := peaks.Strongest(len(s.channels))

	for i := range s.channels {
		ch := &s.channels[i]
		r := &s.readings[i]
		r.Manual = ch.Target.Manual()

		if i >= len(assigned) {
			*r = Reading{
				Channel:      i,
				Order:        ch.Order,
				Note:         pitch.UnknownNote,
				TargetNote:   pitch.UnknownNote,
				Manual:       ch.Target.Manual(),
				Phase:        ch.Phase,
				SegmentWidth: ch.SegmentWidth,
			}
			continue
		}

		peak := assigned[i]
		est := pitch.Evaluate(peak.Frequency, ch.Target)
		ch.Advance(est.Delta, s.params.MaxSpeed, scale)

		r.Active = true
		r.Frequency = peak.Frequency
		r.Magnitude = peak.Magnitude
		r.Note = est.NoteName()
		r.TargetNote = est.TargetName()
		r.Delta = est.Delta
		r.Phase = ch.Phase
	}
	return s.Readings()
}

// Readings returns a copy of the readings of the last tick without
// advancing anything.
func (s *Synchronizer) Readings() []Reading {
	out := make([]Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

// SetTarget fixes channel i to a target frequency. Phase is untouched; the
// new target applies from the next tick.
func (s *Synchronizer) SetTarget(i int, frequency float64) error {
	if i < 0 || i >= len(s.channels) {
		return fmt.Errorf("channel %d: %w", i, ErrChannelRange)
	}
	if !(frequency > 0) || math.IsInf(frequency, 0) {
		return fmt.Errorf("target %v Hz: %w", frequency, pitch.ErrUndefinedPitch)
	}
	s.channels[i].Target = pitch.ManualTarget(frequency)
	return nil
}

// SetTargetMidi fixes every channel to the frequency of a MIDI number.
func (s *Synchronizer) SetTargetMidi(midi float64) error {
	f, err := pitch.MidiToFrequency(midi)
	if err != nil {
		return err
	}
	for i := range s.channels {
		s.channels[i].Target = pitch.ManualTarget(f)
	}
	return nil
}

// AutoTarget returns channel i to tracking the nearest semitone.
func (s *Synchronizer) AutoTarget(i int) error {
	if i < 0 || i >= len(s.channels) {
		return fmt.Errorf("channel %d: %w", i, ErrChannelRange)
	}
	s.channels[i].Target = pitch.AutoTarget()
	return nil
}

// AutoTargetAll returns every channel to auto mode.
func (s *Synchronizer) AutoTargetAll() {
	for i := range s.channels {
		s.channels[i].Target = pitch.AutoTarget()
	}
}

// Transpose shifts every manual target by a number of semitones. Auto
// channels are unaffected. It reports whether any channel was manual.
func (s *Synchronizer) Transpose(semitones float64) bool {
	factor := math.Pow(2, semitones/12)
	shifted := false
	for i := range s.channels {
		t := s.channels[i].Target
		if !t.Manual() {
			continue
		}
		s.channels[i].Target = pitch.ManualTarget(t.Frequency() * factor)
		shifted = true
	}
	return shifted
}
