// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"strobe/internal/log"
	"strobe/internal/strobe"
)

// ReadingsSource is implemented by values that carry strobe readings, such
// as tuner frames.
type ReadingsSource interface {
	StrobeReadings() []strobe.Reading
}

// LoggingTransport writes a one-line summary of the readings it receives,
// at most once per interval. It is the output of headless mode.
type LoggingTransport struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewLoggingTransport creates a LoggingTransport. A non-positive interval
// logs every value.
func NewLoggingTransport(interval time.Duration) *LoggingTransport {
	log.Infof("Transport: Using LoggingTransport (every %s)", interval)
	return &LoggingTransport{interval: interval, now: time.Now}
}

// Send logs data if the interval has passed. Values without readings are
// logged with their Go syntax at debug level.
func (lt *LoggingTransport) Send(data any) error {
	lt.mu.Lock()
	now := lt.now()
	if lt.interval > 0 && !lt.last.IsZero() && now.Sub(lt.last) < lt.interval {
		lt.mu.Unlock()
		return nil
	}
	lt.last = now
	lt.mu.Unlock()

	src, ok := data.(ReadingsSource)
	if !ok {
		log.Debugf("Transport: %T %+v", data, data)
		return nil
	}
	log.Infof("Tuner: %s", FormatReadings(src.StrobeReadings()))
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	log.Debugf("Transport: LoggingTransport closed")
	return nil
}

// FormatReadings renders readings as "A4 +3.1c | E5 -12.0c | --".
func FormatReadings(readings []strobe.Reading) string {
	parts := make([]string, len(readings))
	for i, r := range readings {
		cents, ok := r.Cents()
		if !r.Active || !ok {
			parts[i] = "--"
			continue
		}
		parts[i] = fmt.Sprintf("%s %+.1fc (%.1f Hz)", r.Note, cents, r.Frequency)
		if r.Manual {
			parts[i] += " ->" + r.TargetNote
		}
	}
	return strings.Join(parts, " | ")
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
