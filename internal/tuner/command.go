// SPDX-License-Identifier: MIT
package tuner

import (
	"encoding/json"
	"fmt"
)

// Command is a control request from a render collaborator, for example
//
//	{"op": "transpose", "semitones": 12}
//	{"op": "set_target", "channel": 1, "frequency": 329.63}
type Command struct {
	Op        string  `json:"op"`
	Channel   int     `json:"channel,omitempty"`
	Frequency float64 `json:"frequency,omitempty"`
	Midi      float64 `json:"midi,omitempty"`
	Semitone  int     `json:"semitone,omitempty"`
	Semitones int     `json:"semitones,omitempty"`
}

// Command ops.
const (
	OpToggleFreeze   = "toggle_freeze"
	OpBufferIncrease = "buffer_increase"
	OpBufferDecrease = "buffer_decrease"
	OpSetTargetMidi  = "set_target_midi"
	OpSetNote        = "set_note"
	OpTranspose      = "transpose"
	OpSetTarget      = "set_target"
	OpAutoTarget     = "auto_target"
	OpAutoTargetAll  = "auto_target_all"
)

// Apply runs cmd against the tuner.
func (t *Tuner) Apply(cmd Command) error {
	var err error
	switch cmd.Op {
	case OpToggleFreeze:
		_, err = t.ToggleFreeze()
	case OpBufferIncrease:
		_, err = t.BufferIncrease()
	case OpBufferDecrease:
		_, err = t.BufferDecrease()
	case OpSetTargetMidi:
		err = t.SetTargetMidi(cmd.Midi)
	case OpSetNote:
		err = t.SetNote(cmd.Semitone)
	case OpTranspose:
		_, err = t.Transpose(cmd.Semitones)
	case OpSetTarget:
		err = t.SetTarget(cmd.Channel, cmd.Frequency)
	case OpAutoTarget:
		err = t.AutoTarget(cmd.Channel)
	case OpAutoTargetAll:
		t.AutoTargetAll()
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Op, err)
	}
	return nil
}

// ApplyJSON decodes a Command and applies it.
func (t *Tuner) ApplyJSON(data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	return t.Apply(cmd)
}
