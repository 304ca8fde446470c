// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults for
// the tuner.
const (
	// Audio capture defaults.
	DefaultChannels   = 1           // Mono capture only
	DefaultDeviceID   = MinDeviceID // System default input device
	DefaultBufferSize = 4096        // Frames per analysis cycle
	DefaultSampleRate = 48000       // Hz
	DefaultLowLatency = false
	DefaultFFTWindow  = "none" // Rectangular; peak picking expects no window
	DefaultPeakCount  = 10

	// Strobe defaults.
	DefaultStrobeChannels = 3
	DefaultMaxSpeed       = 50.0
	DefaultStripWidth     = 720.0
	DefaultDisplayRate    = 30.0 // Ticks per second
	// DefaultReferenceInterval is the buffer duration of the default stream,
	// so the default configuration drifts at speed scale 1.
	DefaultReferenceInterval = time.Second * DefaultBufferSize / DefaultSampleRate

	// Transport defaults.
	DefaultWebSocketAddress = ":8080"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz

	// Metrics defaults.
	DefaultMetricsAddress = ":9464"

	// Simulated input defaults.
	DefaultSimulateFrequency = 440.0
	DefaultSimulateAmplitude = 0.5

	// Hardware and processing limits.
	MinDeviceID       = -1     // -1 represents system default device
	MinSampleRate     = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate     = 192000 // Maximum supported sample rate (Hz)
	MinBufferFrames   = 64     // Smallest power-of-two buffer
	MaxBufferFrames   = 32768  // Largest power-of-two buffer
	MaxStrobeChannels = 8
	MinDisplayRate    = 1.0
	MaxDisplayRate    = 240.0
)
