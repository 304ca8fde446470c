// SPDX-License-Identifier: MIT
package pitch

// Target selects what a measured pitch is compared against. The zero value
// is auto mode: the nearest whole semitone of the measurement.
type Target struct {
	frequency float64
	manual    bool
}

// AutoTarget compares against the nearest semitone of the measurement.
func AutoTarget() Target {
	return Target{}
}

// ManualTarget compares against a fixed frequency.
func ManualTarget(frequency float64) Target {
	return Target{frequency: frequency, manual: true}
}

// ManualTargetMidi compares against the frequency of a MIDI number. A MIDI
// number with no frequency gives a manual target that never resolves.
func ManualTargetMidi(midi float64) Target {
	f, err := MidiToFrequency(midi)
	if err != nil {
		return Target{manual: true}
	}
	return ManualTarget(f)
}

// Manual reports whether the target is fixed.
func (t Target) Manual() bool {
	return t.manual
}

// Frequency returns the fixed target frequency; zero in auto mode.
func (t Target) Frequency() float64 {
	return t.frequency
}

// Resolve returns the target pitch for a measured frequency. A manual
// frequency is converted without rounding.
func (t Target) Resolve(measured float64) Pitch {
	if t.manual {
		return FrequencyToMidiCents(t.frequency)
	}
	return FrequencyToMidiRounded(measured)
}

// Estimate is the pitch of one measurement against its target.
type Estimate struct {
	MeasuredFrequency float64
	Measured          Pitch
	Target            Pitch
	// Delta is Measured - Target in semitones; defined only when both are.
	Delta Pitch
}

// Evaluate measures frequency against target.
func Evaluate(frequency float64, target Target) Estimate {
	measured := FrequencyToMidiCents(frequency)
	resolved := target.Resolve(frequency)
	return Estimate{
		MeasuredFrequency: frequency,
		Measured:          measured,
		Target:            resolved,
		Delta:             measured.Sub(resolved),
	}
}

// NoteName is the name of the measured pitch.
func (e Estimate) NoteName() string {
	return MidiToNoteName(e.Measured)
}

// TargetName is the name of the target pitch.
func (e Estimate) TargetName() string {
	return MidiToNoteName(e.Target)
}
