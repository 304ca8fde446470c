// SPDX-License-Identifier: MIT
package config

import "time"

// BufferDuration is the wall-clock length of one capture buffer.
func (a AudioConfig) BufferDuration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(a.BufferSize) / a.SampleRate * float64(time.Second))
}

// TickInterval is the period of the display loop.
func (s StrobeConfig) TickInterval() time.Duration {
	if s.DisplayRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.DisplayRate)
}
