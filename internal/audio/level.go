// SPDX-License-Identifier: MIT
package audio

import "math"

// PeakAmplitude returns the largest absolute sample value. Samples are widened
// to int32 first so that math.MinInt16 does not overflow.
func (f Frame) PeakAmplitude() int32 {
	var maxAmplitude int32
	for _, s := range f.Samples {
		sample := int32(s)
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += diff &^ (diff >> 31)
	}
	return maxAmplitude
}

// Level returns the peak amplitude as a fraction of full scale, in [0, 1].
func (f Frame) Level() float64 {
	return float64(f.PeakAmplitude()) / (math.MaxInt16 + 1)
}

// Silent reports whether the frame's level is at or below threshold. The
// threshold is clamped to [0, 1].
func (f Frame) Silent(threshold float64) bool {
	threshold = max(0, min(threshold, 1))
	return f.Level() <= threshold
}
