// SPDX-License-Identifier: MIT
package capture

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"strobe/internal/analysis"
	"strobe/internal/audio"
)

const waitTimeout = 2 * time.Second

// countingSource wraps a tone source and tracks open and close calls. It
// records a violation if a second stream is opened while one is still open.
type countingSource struct {
	tone *audio.ToneSource

	mu        sync.Mutex
	opens     int
	closes    int
	violation bool
	openErr   error
	// gate, when set, blocks Open until it is closed. entered is signalled
	// once Open is waiting on it.
	gate    chan struct{}
	entered chan struct{}
	// failAfter makes every new stream fail its read after that many frames.
	failAfter int
}

func newCountingSource() *countingSource {
	return &countingSource{tone: &audio.ToneSource{Frequency: 440, Amplitude: 0.5}}
}

func (s *countingSource) Open(cfg audio.StreamConfig) (audio.Stream, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.opens-s.closes != 0 {
		s.violation = true
	}
	inner, err := s.tone.Open(cfg)
	if err != nil {
		return nil, err
	}
	s.opens++
	return &countingStream{Stream: inner, src: s, failAfter: s.failAfter}, nil
}

func (s *countingSource) setGate() (gate, entered chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{})
	return s.gate, s.entered
}

func (s *countingSource) clearGate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate, s.entered = nil, nil
}

func (s *countingSource) counts() (opens, closes int, violation bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes, s.violation
}

type countingStream struct {
	audio.Stream
	src       *countingSource
	reads     int
	failAfter int
	closeOnce sync.Once
}

func (s *countingStream) ReadFrame() (audio.Frame, error) {
	time.Sleep(time.Millisecond)
	s.reads++
	if s.failAfter > 0 && s.reads > s.failAfter {
		return audio.Frame{}, &audio.DeviceError{Op: "read", Err: errors.New("device unplugged")}
	}
	return s.Stream.ReadFrame()
}

func (s *countingStream) Close() error {
	s.closeOnce.Do(func() {
		s.src.mu.Lock()
		s.src.closes++
		s.src.mu.Unlock()
	})
	return s.Stream.Close()
}

// scriptedSource opens a scriptedStream. Reads deliver the frames sent on
// frames and otherwise block until the stream is closed.
type scriptedSource struct {
	frames chan audio.Frame
	stream *scriptedStream
}

func (s *scriptedSource) Open(cfg audio.StreamConfig) (audio.Stream, error) {
	s.stream = &scriptedStream{
		cfg:      cfg,
		frames:   s.frames,
		reading:  make(chan struct{}),
		released: make(chan struct{}),
	}
	return s.stream, nil
}

type scriptedStream struct {
	cfg      audio.StreamConfig
	frames   chan audio.Frame
	reading  chan struct{} // closed once the first read is waiting
	released chan struct{}

	readOnce, closeOnce sync.Once
	closes              atomic.Int32
}

func (s *scriptedStream) ReadFrame() (audio.Frame, error) {
	s.readOnce.Do(func() { close(s.reading) })
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.released:
		return audio.Frame{}, audio.ErrStreamClosed
	}
}

func (s *scriptedStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.released) })
	return nil
}

func (s *scriptedStream) Config() audio.StreamConfig { return s.cfg }

func sineFrame(cfg audio.StreamConfig, n int) audio.Frame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/cfg.SampleRate))
	}
	return audio.Frame{Samples: samples, Format: cfg.Format()}
}

type countingRecorder struct {
	nopRecorder
	opened, closed, deviceErrors atomic.Int64
}

func (r *countingRecorder) StreamOpened()      { r.opened.Add(1) }
func (r *countingRecorder) StreamClosed()      { r.closed.Add(1) }
func (r *countingRecorder) DeviceError(string) { r.deviceErrors.Add(1) }

// analysisRecorder forwards analysis error reasons to a channel.
type analysisRecorder struct {
	nopRecorder
	reasons chan string
}

func (r *analysisRecorder) AnalysisError(reason string) { r.reasons <- reason }

func testStreamConfig() audio.StreamConfig {
	return audio.StreamConfig{DeviceID: -1, SampleRate: 8000, BufferSize: 256, Channels: 1}
}

func newTestController(t *testing.T, src audio.Source, rec Recorder) *Controller {
	t.Helper()
	a, err := analysis.NewAnalyzer(10, analysis.Rectangular)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	c, err := NewController(src, a, rec)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate() })
	return c
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a message")
	}
	return Message{}
}

func TestControllerStartDelivers(t *testing.T) {
	c := newTestController(t, newCountingSource(), nil)
	sub := c.Subscribe(64)

	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != Streaming {
		t.Fatalf("State() = %s, want streaming", c.State())
	}

	var last uint64
	for range 5 {
		msg := receive(t, sub)
		if msg.Seq <= last {
			t.Errorf("seq %d after %d", msg.Seq, last)
		}
		last = msg.Seq
		if msg.Stream.BufferSize != 256 || len(msg.Snapshot.Bins) != 128 {
			t.Errorf("message shape: buffer %d, %d bins", msg.Stream.BufferSize, len(msg.Snapshot.Bins))
		}
		if len(msg.Peaks) != 10 {
			t.Errorf("peaks = %d, want 10", len(msg.Peaks))
		}
	}

	latest, ok := c.Latest()
	if !ok || latest.Seq < last {
		t.Errorf("Latest() = %d, %v; want >= %d", latest.Seq, ok, last)
	}
	if d := latest.BufferDuration(); (d - 32*time.Millisecond).Abs() > time.Microsecond {
		t.Errorf("BufferDuration() = %v, want 32ms", d)
	}
}

func TestControllerPauseResume(t *testing.T) {
	c := newTestController(t, newCountingSource(), nil)
	sub := c.Subscribe(1)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	receive(t, sub)

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if c.State() != Paused {
		t.Fatalf("State() = %s, want paused", c.State())
	}

	paused, _ := c.Latest()
	// Drain anything published before Pause returned.
	select {
	case <-sub.C:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if msg, _ := c.Latest(); msg.Seq != paused.Seq {
		t.Errorf("message %d published while paused (was %d)", msg.Seq, paused.Seq)
	}
	select {
	case msg := <-sub.C:
		t.Errorf("subscription received %d while paused", msg.Seq)
	default:
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if msg := receive(t, sub); msg.Seq <= paused.Seq {
		t.Errorf("after resume seq = %d, want > %d", msg.Seq, paused.Seq)
	}
}

func TestControllerInvalidTransitions(t *testing.T) {
	c := newTestController(t, newCountingSource(), nil)

	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause in idle: %v, want ErrInvalidState", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume in idle: %v, want ErrInvalidState", err)
	}
	if err := c.Reconfigure(512); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Reconfigure in idle: %v, want ErrInvalidState", err)
	}

	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(testStreamConfig()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start: %v, want ErrInvalidState", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while streaming: %v, want ErrInvalidState", err)
	}
}

func TestControllerStartFailureStaysIdle(t *testing.T) {
	src := newCountingSource()
	src.openErr = &audio.DeviceError{Op: "open", Err: errors.New("no such device")}
	rec := &countingRecorder{}
	c := newTestController(t, src, rec)

	err := c.Start(testStreamConfig())
	var devErr *audio.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Start error = %v, want *audio.DeviceError", err)
	}
	if c.State() != Idle {
		t.Errorf("State() = %s, want idle", c.State())
	}
	if rec.deviceErrors.Load() != 1 {
		t.Errorf("device errors recorded = %d, want 1", rec.deviceErrors.Load())
	}
}

func TestControllerReconfigure(t *testing.T) {
	tests := []struct {
		name  string
		pause bool
	}{
		{"From streaming", false},
		{"From paused", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newCountingSource()
			c := newTestController(t, src, nil)
			sub := c.Subscribe(64)
			if err := c.Start(testStreamConfig()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if tt.pause {
				if err := c.Pause(); err != nil {
					t.Fatalf("Pause: %v", err)
				}
			}

			if err := c.Reconfigure(512); err != nil {
				t.Fatalf("Reconfigure: %v", err)
			}
			if c.State() != Streaming {
				t.Errorf("State() = %s, want streaming", c.State())
			}
			if c.Config().BufferSize != 512 {
				t.Errorf("BufferSize = %d, want 512", c.Config().BufferSize)
			}

			for {
				msg := receive(t, sub)
				if msg.Stream.BufferSize == 512 {
					if len(msg.Snapshot.Bins) != 256 {
						t.Errorf("%d bins after reconfigure, want 256", len(msg.Snapshot.Bins))
					}
					break
				}
			}

			opens, closes, violation := src.counts()
			if opens != 2 || closes != 1 || violation {
				t.Errorf("opens=%d closes=%d violation=%v, want 2/1/false", opens, closes, violation)
			}
		})
	}
}

func TestControllerReconfigureRejectsInvalidSize(t *testing.T) {
	c := newTestController(t, newCountingSource(), nil)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, n := range []int{0, 1000, 32, 65536} {
		if err := c.Reconfigure(n); err == nil {
			t.Errorf("Reconfigure(%d) should fail", n)
		}
	}
	if c.State() != Streaming || c.Config().BufferSize != 256 {
		t.Errorf("state %s / buffer %d after rejected reconfigures", c.State(), c.Config().BufferSize)
	}
}

func TestControllerReconfigureBusy(t *testing.T) {
	src := newCountingSource()
	c := newTestController(t, src, nil)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gate, entered := src.setGate()
	first := make(chan error, 1)
	go func() { first <- c.Reconfigure(512) }()

	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("first reconfigure never reached Open")
	}
	if c.State() != Reconfiguring {
		t.Errorf("State() = %s, want reconfiguring", c.State())
	}

	if err := c.Reconfigure(1024); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("concurrent Reconfigure = %v, want ErrDeviceBusy", err)
	}

	src.clearGate()
	close(gate)
	if err := <-first; err != nil {
		t.Fatalf("first Reconfigure: %v", err)
	}
	if c.Config().BufferSize != 512 {
		t.Errorf("BufferSize = %d, want 512", c.Config().BufferSize)
	}

	// A later reconfigure is no longer busy.
	if err := c.Reconfigure(1024); err != nil {
		t.Errorf("sequential Reconfigure: %v", err)
	}
}

func TestControllerNeverTwoOpenStreams(t *testing.T) {
	src := newCountingSource()
	rec := &countingRecorder{}
	c := newTestController(t, src, rec)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			size := 256
			if i%2 == 0 {
				size = 512
			}
			err := c.Reconfigure(size)
			if err != nil && !errors.Is(err, ErrDeviceBusy) {
				t.Errorf("Reconfigure(%d): %v", size, err)
			}
		}()
	}
	wg.Wait()

	if err := c.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	opens, closes, violation := src.counts()
	if violation {
		t.Error("a stream was opened while another was open")
	}
	if opens != closes {
		t.Errorf("opens=%d closes=%d after terminate", opens, closes)
	}
	if rec.opened.Load() != rec.closed.Load() {
		t.Errorf("recorder opened=%d closed=%d", rec.opened.Load(), rec.closed.Load())
	}
}

func TestControllerTerminate(t *testing.T) {
	src := newCountingSource()
	c := newTestController(t, src, nil)
	sub := c.Subscribe(4)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for range 2 {
		if err := c.Terminate(); err != nil {
			t.Fatalf("Terminate: %v", err)
		}
	}
	if c.State() != Closed {
		t.Errorf("State() = %s, want closed", c.State())
	}
	if c.Err() != nil {
		t.Errorf("Err() = %v, want nil after Terminate", c.Err())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed")
	}

	for range sub.C {
	}
	if opens, closes, _ := src.counts(); opens != closes {
		t.Errorf("opens=%d closes=%d", opens, closes)
	}
	if err := c.Start(testStreamConfig()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start after Terminate = %v, want ErrInvalidState", err)
	}
}

func TestControllerTerminateFromIdle(t *testing.T) {
	c := newTestController(t, newCountingSource(), nil)
	if err := c.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if c.State() != Closed {
		t.Errorf("State() = %s, want closed", c.State())
	}
}

func TestControllerTerminateFromConsumer(t *testing.T) {
	c := newTestController(t, newCountingSource(), nil)
	sub := c.Subscribe(4)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for range sub.C {
			if err := c.Terminate(); err != nil {
				t.Errorf("Terminate: %v", err)
			}
		}
	}()

	select {
	case <-finished:
	case <-time.After(waitTimeout):
		t.Fatal("consumer did not finish after terminating")
	}
}

func TestControllerDeviceErrorCloses(t *testing.T) {
	src := newCountingSource()
	src.failAfter = 3
	rec := &countingRecorder{}
	c := newTestController(t, src, rec)

	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("controller did not close after a device error")
	}

	if c.State() != Closed {
		t.Errorf("State() = %s, want closed", c.State())
	}
	var devErr *audio.DeviceError
	if !errors.As(c.Err(), &devErr) || devErr.Op != "read" {
		t.Errorf("Err() = %v, want read *audio.DeviceError", c.Err())
	}
	if msg, ok := c.Latest(); !ok || msg.Seq != 3 {
		t.Errorf("Latest() = %d, %v; want the 3 frames before the failure", msg.Seq, ok)
	}
	if opens, closes, _ := src.counts(); opens != 1 || closes != 1 {
		t.Errorf("opens=%d closes=%d, want 1/1", opens, closes)
	}
	if rec.deviceErrors.Load() != 1 {
		t.Errorf("device errors recorded = %d, want 1", rec.deviceErrors.Load())
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause after failure = %v, want ErrInvalidState", err)
	}
	if err := c.Terminate(); err != nil {
		t.Errorf("Terminate after failure = %v", err)
	}
}

func TestControllerTerminateWhileReadBlocked(t *testing.T) {
	src := &scriptedSource{}
	c := newTestController(t, src, nil)
	if err := c.Start(testStreamConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := src.stream

	select {
	case <-stream.reading:
	case <-time.After(waitTimeout):
		t.Fatal("loop never started reading")
	}

	done := make(chan error, 1)
	go func() { done <- c.Terminate() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Terminate: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Terminate blocked behind a stalled read")
	}

	if c.State() != Closed {
		t.Errorf("State() = %s, want closed", c.State())
	}
	if c.Err() != nil {
		t.Errorf("Err() = %v, want nil", c.Err())
	}
	if n := stream.closes.Load(); n != 1 {
		t.Errorf("stream closed %d times, want 1", n)
	}
}

func TestControllerSkipsShortFrame(t *testing.T) {
	cfg := testStreamConfig()
	src := &scriptedSource{frames: make(chan audio.Frame)}
	rec := &analysisRecorder{reasons: make(chan string, 1)}
	c := newTestController(t, src, rec)
	sub := c.Subscribe(4)
	if err := c.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.frames <- sineFrame(cfg, cfg.BufferSize)
	first := receive(t, sub)

	src.frames <- sineFrame(cfg, 1)
	select {
	case reason := <-rec.reasons:
		if reason != "insufficient_samples" {
			t.Errorf("reason = %q, want insufficient_samples", reason)
		}
	case <-time.After(waitTimeout):
		t.Fatal("short frame was not reported")
	}

	if latest, ok := c.Latest(); !ok || latest.Seq != first.Seq {
		t.Errorf("Latest() = %d, %v; want the earlier %d", latest.Seq, ok, first.Seq)
	}
	if c.State() != Streaming {
		t.Errorf("State() = %s, want streaming", c.State())
	}

	src.frames <- sineFrame(cfg, cfg.BufferSize)
	third := receive(t, sub)
	if third.Seq != first.Seq+1 {
		t.Errorf("seq after short frame = %d, want %d", third.Seq, first.Seq+1)
	}
	if len(third.Snapshot.Bins) != cfg.BufferSize/2 {
		t.Errorf("%d bins, want %d", len(third.Snapshot.Bins), cfg.BufferSize/2)
	}
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	a, _ := analysis.NewAnalyzer(1, analysis.Rectangular)
	if _, err := NewController(nil, a, nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := NewController(newCountingSource(), nil, nil); err == nil {
		t.Error("expected error for nil analyzer")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Idle:          "idle",
		Streaming:     "streaming",
		Paused:        "paused",
		Reconfiguring: "reconfiguring",
		Closed:        "closed",
		State(42):     "state(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), s.String(), want)
		}
	}
}
