// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"testing"
)

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    int32
	}{
		{"Empty", nil, 0},
		{"Silence", []int16{0, 0, 0}, 0},
		{"Positive peak", []int16{1, 300, -200}, 300},
		{"Negative peak", []int16{1, 300, -301}, 301},
		{"Full scale negative", []int16{math.MinInt16, 5}, 32768},
		{"Full scale positive", []int16{math.MaxInt16}, 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Frame{Samples: tt.samples}).PeakAmplitude(); got != tt.want {
				t.Errorf("PeakAmplitude() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLevelAndSilent(t *testing.T) {
	f := Frame{Samples: []int16{100, -16384, 20}}

	if got := f.Level(); got != 0.5 {
		t.Errorf("Level() = %v, want 0.5", got)
	}

	tests := []struct {
		threshold float64
		want      bool
	}{
		{-0.1, false}, // Clamped to 0
		{0.25, false},
		{0.5, true},
		{1.5, true}, // Clamped to 1
	}
	for _, tt := range tests {
		if got := f.Silent(tt.threshold); got != tt.want {
			t.Errorf("Silent(%v) = %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

// TestPeakAmplitudeHotPath verifies the level scan does not allocate.
func TestPeakAmplitudeHotPath(t *testing.T) {
	samples := make([]int16, 4096)
	for i := range samples {
		samples[i] = int16((i%200 - 100) * 300)
	}
	f := Frame{Samples: samples}

	allocs := testing.AllocsPerRun(100, func() {
		_ = f.PeakAmplitude()
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in level scan, got %.1f", allocs)
	}
}

func BenchmarkPeakAmplitude(b *testing.B) {
	samples := make([]int16, 4096)
	for i := range samples {
		samples[i] = int16((i%200 - 100) * 300)
	}
	f := Frame{Samples: samples}

	for b.Loop() {
		_ = f.PeakAmplitude()
	}
}
