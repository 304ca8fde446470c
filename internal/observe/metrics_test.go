// SPDX-License-Identifier: MIT
package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestObserveCycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ObserveCycle(2*time.Millisecond, 0.5)
	m.ObserveCycle(3*time.Millisecond, 0.25)

	rm := collect(t, reader)
	if got := sumInt(t, rm, "strobe.capture.cycles"); got != 2 {
		t.Errorf("cycles = %d, want 2", got)
	}

	for _, name := range []string{"strobe.capture.cycle.duration", "strobe.capture.input_level"} {
		t.Run(name, func(t *testing.T) {
			hm := findMetric(rm, name)
			if hm == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := hm.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is %T, want Histogram[float64]", name, hm.Data)
			}
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v, want one point with count 2", hist.DataPoints)
			}
		})
	}
}

func TestCountersWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.AnalysisError("insufficient_samples")
	m.DeviceError("read")
	m.Reconfigured("ok")
	m.Reconfigured("busy")
	m.DisplayTick(false)
	m.DisplayTick(true)
	m.DisplayTick(true)
	m.Dropped(4)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"strobe.analysis.errors", 1},
		{"strobe.capture.device_errors", 1},
		{"strobe.capture.reconfigures", 2},
		{"strobe.tuner.ticks", 3},
		{"strobe.mailbox.dropped", 4},
	}
	for _, tt := range tests {
		if got := sumInt(t, rm, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}

	ticks := findMetric(rm, "strobe.tuner.ticks").Data.(metricdata.Sum[int64])
	for _, dp := range ticks.DataPoints {
		frozen, _ := dp.Attributes.Value(attribute.Key("frozen"))
		want := int64(1)
		if frozen.AsBool() {
			want = 2
		}
		if dp.Value != want {
			t.Errorf("ticks{frozen=%v} = %d, want %d", frozen.AsBool(), dp.Value, want)
		}
	}
}

func TestOpenStreamsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.StreamOpened()
	m.StreamClosed()
	m.StreamOpened()

	if got := sumInt(t, collect(t, reader), "strobe.capture.open_streams"); got != 1 {
		t.Errorf("open streams = %d, want 1", got)
	}
}

func TestProviderHandler(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test", Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.ObserveCycle(time.Millisecond, 0.1)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "strobe_capture_cycles") {
		t.Errorf("scrape output does not contain strobe_capture_cycles:\n%s", body)
	}
}
