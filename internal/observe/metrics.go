// SPDX-License-Identifier: MIT
//
// Package observe holds the OpenTelemetry instruments of the tuner. Metrics are
// recorded through the OTel API and scraped through the Prometheus exporter
// set up by InitProvider. Tests build their own Metrics from a ManualReader so
// they never touch the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every strobe metric.
const meterName = "strobe"

// Metrics holds all instruments. The OTel types are safe for concurrent use.
type Metrics struct {
	// CycleDuration is the time from a completed buffer read to the message
	// being published, in seconds.
	CycleDuration metric.Float64Histogram

	// Cycles counts published analysis cycles.
	Cycles metric.Int64Counter

	// AnalysisErrors counts skipped cycles. Use with attribute "reason".
	AnalysisErrors metric.Int64Counter

	// DeviceErrors counts fatal device errors. Use with attribute "op".
	DeviceErrors metric.Int64Counter

	// Reconfigures counts buffer size changes. Use with attribute "status".
	Reconfigures metric.Int64Counter

	// OpenStreams is the number of open capture streams, zero or one.
	OpenStreams metric.Int64UpDownCounter

	// InputLevel is the peak level of each buffer relative to full scale.
	InputLevel metric.Float64Histogram

	// DisplayTicks counts tuner display ticks. Use with attribute "frozen".
	DisplayTicks metric.Int64Counter

	// DroppedMessages counts messages dropped from slow subscriptions.
	DroppedMessages metric.Int64Counter
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	// Buffers of 64 to 32768 frames at 8 to 192 kHz.
	cycleBuckets := []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1}

	if m.CycleDuration, err = meter.Float64Histogram("strobe.capture.cycle.duration",
		metric.WithDescription("Time from buffer read to published analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cycleBuckets...),
	); err != nil {
		return nil, err
	}

	if m.Cycles, err = meter.Int64Counter("strobe.capture.cycles",
		metric.WithDescription("Published analysis cycles."),
	); err != nil {
		return nil, err
	}

	if m.AnalysisErrors, err = meter.Int64Counter("strobe.analysis.errors",
		metric.WithDescription("Analysis cycles skipped because of an error."),
	); err != nil {
		return nil, err
	}

	if m.DeviceErrors, err = meter.Int64Counter("strobe.capture.device_errors",
		metric.WithDescription("Fatal audio device errors."),
	); err != nil {
		return nil, err
	}

	if m.Reconfigures, err = meter.Int64Counter("strobe.capture.reconfigures",
		metric.WithDescription("Buffer size reconfigurations."),
	); err != nil {
		return nil, err
	}

	if m.OpenStreams, err = meter.Int64UpDownCounter("strobe.capture.open_streams",
		metric.WithDescription("Currently open capture streams."),
	); err != nil {
		return nil, err
	}

	if m.InputLevel, err = meter.Float64Histogram("strobe.capture.input_level",
		metric.WithDescription("Peak input level relative to full scale."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 0.99),
	); err != nil {
		return nil, err
	}

	if m.DisplayTicks, err = meter.Int64Counter("strobe.tuner.ticks",
		metric.WithDescription("Tuner display ticks."),
	); err != nil {
		return nil, err
	}

	if m.DroppedMessages, err = meter.Int64Counter("strobe.mailbox.dropped",
		metric.WithDescription("Messages dropped from slow subscriptions."),
	); err != nil {
		return nil, err
	}

	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the Metrics bound to the global meter provider. Call
// it after InitProvider.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ObserveCycle records one published analysis cycle.
func (m *Metrics) ObserveCycle(d time.Duration, level float64) {
	ctx := context.Background()
	m.Cycles.Add(ctx, 1)
	m.CycleDuration.Record(ctx, d.Seconds())
	m.InputLevel.Record(ctx, level)
}

// AnalysisError records a skipped cycle.
func (m *Metrics) AnalysisError(reason string) {
	m.AnalysisErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// DeviceError records a fatal device error.
func (m *Metrics) DeviceError(op string) {
	m.DeviceErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("op", op)))
}

// Reconfigured records a reconfiguration attempt.
func (m *Metrics) Reconfigured(status string) {
	m.Reconfigures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// StreamOpened records a stream being opened.
func (m *Metrics) StreamOpened() {
	m.OpenStreams.Add(context.Background(), 1)
}

// StreamClosed records a stream being closed.
func (m *Metrics) StreamClosed() {
	m.OpenStreams.Add(context.Background(), -1)
}

// DisplayTick records one tuner tick.
func (m *Metrics) DisplayTick(frozen bool) {
	m.DisplayTicks.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("frozen", frozen)))
}

// Dropped records n messages dropped from a subscription.
func (m *Metrics) Dropped(n int) {
	m.DroppedMessages.Add(context.Background(), int64(n))
}
