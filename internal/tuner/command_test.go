// SPDX-License-Identifier: MIT
package tuner

import (
	"testing"
)

func TestApplyJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
		check   func(t *testing.T, tn *Tuner, ctrl *fakeController)
	}{
		{
			name: "Toggle freeze",
			json: `{"op":"toggle_freeze"}`,
			check: func(t *testing.T, tn *Tuner, ctrl *fakeController) {
				if !tn.Frozen() || ctrl.pauses != 1 {
					t.Errorf("frozen=%v pauses=%d", tn.Frozen(), ctrl.pauses)
				}
			},
		},
		{
			name: "Buffer increase",
			json: `{"op":"buffer_increase"}`,
			check: func(t *testing.T, _ *Tuner, ctrl *fakeController) {
				if len(ctrl.reconfigs) != 1 || ctrl.reconfigs[0] != 8192 {
					t.Errorf("reconfigs = %v, want [8192]", ctrl.reconfigs)
				}
			},
		},
		{
			name: "Buffer decrease",
			json: `{"op":"buffer_decrease"}`,
			check: func(t *testing.T, _ *Tuner, ctrl *fakeController) {
				if len(ctrl.reconfigs) != 1 || ctrl.reconfigs[0] != 2048 {
					t.Errorf("reconfigs = %v, want [2048]", ctrl.reconfigs)
				}
			},
		},
		{
			name: "Transpose",
			json: `{"op":"transpose","semitones":-12}`,
			check: func(t *testing.T, tn *Tuner, _ *fakeController) {
				if tn.TargetMidi() != 57 {
					t.Errorf("TargetMidi = %v, want 57", tn.TargetMidi())
				}
			},
		},
		{
			name: "Set target midi",
			json: `{"op":"set_target_midi","midi":64}`,
			check: func(t *testing.T, tn *Tuner, _ *fakeController) {
				ch, _ := tn.Channel(2)
				if tn.TargetMidi() != 64 || !ch.Target.Manual() {
					t.Errorf("TargetMidi = %v, manual = %v", tn.TargetMidi(), ch.Target.Manual())
				}
			},
		},
		{
			name: "Set note",
			json: `{"op":"set_note","semitone":4}`,
			check: func(t *testing.T, tn *Tuner, _ *fakeController) {
				if tn.TargetMidi() != 64 {
					t.Errorf("TargetMidi = %v, want 64 (E4)", tn.TargetMidi())
				}
			},
		},
		{
			name: "Set target",
			json: `{"op":"set_target","channel":1,"frequency":329.63}`,
			check: func(t *testing.T, tn *Tuner, _ *fakeController) {
				ch, _ := tn.Channel(1)
				if ch.Target.Frequency() != 329.63 {
					t.Errorf("target = %v, want 329.63", ch.Target.Frequency())
				}
			},
		},
		{
			name: "Auto target",
			json: `{"op":"auto_target","channel":0}`,
		},
		{
			name: "Auto target all",
			json: `{"op":"auto_target_all"}`,
		},
		{name: "Bad channel", json: `{"op":"set_target","channel":9,"frequency":440}`, wantErr: true},
		{name: "Zero midi", json: `{"op":"set_target_midi"}`, wantErr: true},
		{name: "Unknown op", json: `{"op":"explode"}`, wantErr: true},
		{name: "Malformed", json: `{"op":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			tn := newTestTuner(t, ctrl, testOptions())

			err := tn.ApplyJSON([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyJSON(%s) error = %v, wantErr %v", tt.json, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, tn, ctrl)
			}
		})
	}
}
