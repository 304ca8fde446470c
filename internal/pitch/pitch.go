// SPDX-License-Identifier: MIT
/*
Package pitch converts between frequencies, fractional MIDI numbers and note
names, and computes the deviation of a measured pitch from its target.

A MIDI number here is continuous: 69.0 is A4 at 440 Hz and every 1.0 is one
semitone (100 cents). Conversions that have no answer (a non-positive or
non-finite frequency) return Undefined instead of a numeric stand-in, so
"no pitch" can never leak into arithmetic.
*/
package pitch

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// ReferenceFrequency is the frequency of A4.
	ReferenceFrequency = 440.0
	// ReferenceMidi is the MIDI number of A4.
	ReferenceMidi = 69.0
	// UnknownNote is the placeholder name for an undefined pitch.
	UnknownNote = "unknown"
)

var (
	// ErrUndefinedPitch is returned when a conversion has no defined result.
	ErrUndefinedPitch = errors.New("undefined pitch")
	// ErrInvalidNoteName is returned by NoteNameToMidi for unparseable input.
	ErrInvalidNoteName = errors.New("invalid note name")
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Pitch is a fractional MIDI number that may be undefined. The zero value is
// Undefined.
type Pitch struct {
	midi    float64
	defined bool
}

// Undefined is the "no pitch" sentinel.
var Undefined = Pitch{}

// Midi wraps a MIDI number. Non-finite values yield Undefined.
func Midi(m float64) Pitch {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return Undefined
	}
	return Pitch{midi: m, defined: true}
}

// Value returns the MIDI number and whether it is defined.
func (p Pitch) Value() (float64, bool) {
	return p.midi, p.defined
}

// Defined reports whether p holds a pitch.
func (p Pitch) Defined() bool {
	return p.defined
}

// Sub returns p - q, Undefined unless both are defined.
func (p Pitch) Sub(q Pitch) Pitch {
	if !p.defined || !q.defined {
		return Undefined
	}
	return Midi(p.midi - q.midi)
}

// Cents converts a pitch difference from semitones to cents.
func (p Pitch) Cents() (float64, bool) {
	if !p.defined {
		return 0, false
	}
	return p.midi * 100, true
}

// MarshalJSON encodes a defined pitch as a number and Undefined as null.
func (p Pitch) MarshalJSON() ([]byte, error) {
	if !p.defined {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, p.midi, 'f', -1, 64), nil
}

// String renders the MIDI number with two decimals, or "undefined".
func (p Pitch) String() string {
	if !p.defined {
		return "undefined"
	}
	return strconv.FormatFloat(p.midi, 'f', 2, 64)
}

func validFrequency(f float64) bool {
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FrequencyToMidiCents returns 69 + 12*log2(f/440), keeping the fractional
// part. Undefined for f <= 0 and non-finite f.
func FrequencyToMidiCents(f float64) Pitch {
	if !validFrequency(f) {
		return Undefined
	}
	return Midi(ReferenceMidi + 12*math.Log2(f/ReferenceFrequency))
}

// FrequencyToMidiRounded returns the nearest whole semitone to f.
func FrequencyToMidiRounded(f float64) Pitch {
	p := FrequencyToMidiCents(f)
	if !p.defined {
		return Undefined
	}
	return Midi(math.Round(p.midi))
}

// MidiToFrequency returns 440 * 2^((m-69)/12). MIDI numbers <= 0 and
// non-finite values are rejected.
func MidiToFrequency(m float64) (float64, error) {
	if !(m > 0) || math.IsInf(m, 0) {
		return 0, fmt.Errorf("midi %v: %w", m, ErrUndefinedPitch)
	}
	return ReferenceFrequency * math.Pow(2, (m-ReferenceMidi)/12), nil
}

// MidiToNoteName maps a pitch onto the 12-tone name table with its octave,
// e.g. 69 -> "A4". Both the name and the octave come from the rounded MIDI
// number, so 59.6 is "C4". Undefined pitches and octaves below 0 yield
// UnknownNote.
func MidiToNoteName(p Pitch) string {
	if !p.defined {
		return UnknownNote
	}
	rounded := int(math.Round(p.midi))
	octave := int(math.Floor(float64(rounded)/12)) - 1
	if octave < 0 {
		return UnknownNote
	}
	return noteNames[rounded%12] + strconv.Itoa(octave)
}

// FrequencyToCents returns the interval from f1 to f2 in cents,
// 1200*log2(f2/f1).
func FrequencyToCents(f1, f2 float64) (float64, error) {
	if !validFrequency(f1) || !validFrequency(f2) {
		return 0, ErrUndefinedPitch
	}
	return 1200 * math.Log2(f2/f1), nil
}

// SemitoneToMidi returns the MIDI number of a pitch class (0 = C ... 11 = B)
// in the given octave. SemitoneToMidi(9, 4) is 69.
func SemitoneToMidi(semitone, octave int) int {
	return (octave+1)*12 + semitone
}

// NoteNameToMidi parses names such as "A4", "c#3", "Bb2" or "E-1" into a
// MIDI number.
func NoteNameToMidi(name string) (int, error) {
	s := strings.TrimSpace(name)
	if len(s) < 2 {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidNoteName)
	}

	letter := strings.ToUpper(s[:1])
	semitone := -1
	for i, n := range noteNames {
		if n == letter {
			semitone = i
			break
		}
	}
	if semitone < 0 {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidNoteName)
	}

	rest := s[1:]
	switch {
	case strings.HasPrefix(rest, "#"):
		semitone++
		rest = rest[1:]
	case strings.HasPrefix(rest, "b"):
		semitone--
		rest = rest[1:]
	}

	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidNoteName)
	}
	midi := SemitoneToMidi(semitone, octave)
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("%q out of MIDI range: %w", name, ErrInvalidNoteName)
	}
	return midi, nil
}
