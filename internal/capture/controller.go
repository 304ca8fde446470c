// SPDX-License-Identifier: MIT
/*
Package capture runs the capture and analysis loop on its own goroutine and
hands every completed cycle to consumers through a Mailbox.

State machine:

	Idle --Start--> Streaming <--Pause/Resume--> Paused
	Streaming|Paused --Reconfigure--> Reconfiguring --> Streaming
	any --Terminate or device error--> Closed

Thread Safety:
  - Every method is safe for concurrent use.
  - Lifecycle operations are serialized; a Reconfigure that finds another one
    in flight fails at once with ErrDeviceBusy.
  - Pause and Reconfigure join the loop goroutine before its stream is
    closed, so at most one stream is ever open.
  - Terminate closes the stream under a read that outlives its ReadWait.
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"strobe/internal/analysis"
	"strobe/internal/audio"
	"strobe/internal/log"
)

var (
	// ErrDeviceBusy is returned by Reconfigure while another reconfigure is
	// in progress.
	ErrDeviceBusy = errors.New("device busy")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("invalid state")
)

// State is the lifecycle state of a Controller.
type State int32

const (
	Idle State = iota
	Streaming
	Paused
	Reconfiguring
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Paused:
		return "paused"
	case Reconfiguring:
		return "reconfiguring"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Recorder receives capture metrics. *observe.Metrics implements it.
type Recorder interface {
	ObserveCycle(d time.Duration, level float64)
	AnalysisError(reason string)
	DeviceError(op string)
	Reconfigured(status string)
	StreamOpened()
	StreamClosed()
	Dropped(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(time.Duration, float64) {}
func (nopRecorder) AnalysisError(string)                {}
func (nopRecorder) DeviceError(string)                  {}
func (nopRecorder) Reconfigured(string)                 {}
func (nopRecorder) StreamOpened()                       {}
func (nopRecorder) StreamClosed()                       {}
func (nopRecorder) Dropped(int)                         {}

// Controller owns one capture session.
type Controller struct {
	source   audio.Source
	analyzer *analysis.Analyzer
	rec      Recorder
	mailbox  *Mailbox

	// opMu serializes lifecycle operations. mu guards the fields below it
	// and is never held while waiting for the loop.
	opMu          sync.Mutex
	reconfiguring atomic.Bool

	mu       sync.Mutex
	state    State
	stream   audio.Stream
	cfg      audio.StreamConfig
	err      error
	cancel   context.CancelFunc
	loopDone chan struct{}
	done     chan struct{}

	seq atomic.Uint64
}

// NewController returns an Idle controller reading from source. rec may be
// nil.
func NewController(source audio.Source, analyzer *analysis.Analyzer, rec Recorder) (*Controller, error) {
	if source == nil {
		return nil, errors.New("capture: source cannot be nil")
	}
	if analyzer == nil {
		return nil, errors.New("capture: analyzer cannot be nil")
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Controller{
		source:   source,
		analyzer: analyzer,
		rec:      rec,
		mailbox:  NewMailbox(rec.Dropped),
		done:     make(chan struct{}),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the configuration of the current or last stream.
func (c *Controller) Config() audio.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Err returns the error that closed the controller, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the controller reaches Closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Mailbox returns the mailbox messages are published to.
func (c *Controller) Mailbox() *Mailbox {
	return c.mailbox
}

// Latest returns the newest message without consuming it.
func (c *Controller) Latest() (Message, bool) {
	return c.mailbox.Latest()
}

// Subscribe returns a drop-oldest subscription of the given queue size.
func (c *Controller) Subscribe(size int) *Subscription {
	return c.mailbox.Subscribe(size)
}

// Start opens a stream with cfg and starts the loop. It is only valid in
// Idle; if the stream cannot be opened the controller stays Idle.
func (c *Controller) Start(cfg audio.StreamConfig) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.State(); s != Idle {
		return fmt.Errorf("start in state %s: %w", s, ErrInvalidState)
	}

	stream, err := c.open(cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.cfg = stream.Config()
	c.state = Streaming
	c.mu.Unlock()

	c.startLoop(stream)
	log.Infof("Capture: Streaming (%.0f Hz, %d frames)", cfg.SampleRate, cfg.BufferSize)
	return nil
}

// Pause stops frame delivery. When it returns no further message is
// published until Resume. The stream stays open.
func (c *Controller) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.State(); s != Streaming {
		return fmt.Errorf("pause in state %s: %w", s, ErrInvalidState)
	}
	c.stopLoop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return c.closedErrLocked()
	}
	c.state = Paused
	log.Infof("Capture: Paused")
	return nil
}

// Resume restarts delivery on the open stream.
func (c *Controller) Resume() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != Paused {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("resume in state %s: %w", s, ErrInvalidState)
	}
	stream := c.stream
	c.state = Streaming
	c.mu.Unlock()

	c.startLoop(stream)
	log.Infof("Capture: Resumed")
	return nil
}

// Reconfigure replaces the stream with one using bufferSize frames. The loop
// is joined and the old stream closed before the new one is opened. On
// success the controller is Streaming, even if it was Paused. If the new
// stream cannot be opened the controller is Closed.
func (c *Controller) Reconfigure(bufferSize int) error {
	if !c.reconfiguring.CompareAndSwap(false, true) {
		c.rec.Reconfigured("busy")
		return ErrDeviceBusy
	}
	defer c.reconfiguring.Store(false)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != Streaming && c.state != Paused {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("reconfigure in state %s: %w", s, ErrInvalidState)
	}
	next := c.cfg.WithBufferSize(bufferSize)
	if err := next.Validate(); err != nil {
		c.mu.Unlock()
		c.rec.Reconfigured("invalid")
		return err
	}
	c.state = Reconfiguring
	c.mu.Unlock()

	log.Infof("Capture: Reconfiguring buffer size %d -> %d", c.Config().BufferSize, bufferSize)
	c.stopLoop()

	c.mu.Lock()
	if c.state == Closed {
		err := c.closedErrLocked()
		c.mu.Unlock()
		return err
	}
	closeErr := c.closeStreamLocked()
	c.mu.Unlock()
	if closeErr != nil {
		log.Warnf("Capture: Closing stream for reconfigure: %v", closeErr)
	}

	stream, err := c.open(next)
	if err != nil {
		c.rec.Reconfigured("failed")
		c.mu.Lock()
		c.closeLocked(err)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.cfg = stream.Config()
	c.state = Streaming
	c.mu.Unlock()

	c.startLoop(stream)
	c.rec.Reconfigured("ok")
	log.Infof("Capture: Streaming with buffer size %d (%s per buffer)", bufferSize, next.BufferDuration())
	return nil
}

// Terminate stops the loop, releases the stream and moves to Closed. It is
// idempotent and may be called from a consumer goroutine. A read that is
// still blocked after the stream's ReadWait is ended by closing the stream
// under it.
func (c *Controller) Terminate() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == Closed {
		return nil
	}

	var closeErr error
	if loopDone := c.cancelLoop(); loopDone != nil {
		wait := c.Config().ReadWait()
		if !waitFor(loopDone, wait) {
			log.Warnf("Capture: Read still blocked after %s, closing the stream", wait)
			c.mu.Lock()
			closeErr = c.closeStreamLocked()
			c.mu.Unlock()
			if !waitFor(loopDone, wait) {
				log.Warnf("Capture: Loop did not return after close, leaving it behind")
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return nil
	}
	err := errors.Join(closeErr, c.closeStreamLocked())
	c.closeLocked(nil)
	log.Infof("Capture: Terminated")
	return err
}

func (c *Controller) open(cfg audio.StreamConfig) (audio.Stream, error) {
	stream, err := c.source.Open(cfg)
	if err != nil {
		var devErr *audio.DeviceError
		if errors.As(err, &devErr) {
			c.rec.DeviceError(devErr.Op)
		}
		log.Errorf("Capture: Failed to open stream: %v", err)
		return nil, err
	}
	c.rec.StreamOpened()
	return stream, nil
}

func (c *Controller) startLoop(stream audio.Stream) {
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.loopDone = loopDone
	c.mu.Unlock()

	go c.run(ctx, stream, loopDone)
}

// stopLoop cancels the loop and waits for it. Pause and Reconfigure rely on
// the loop being gone before the stream is touched.
func (c *Controller) stopLoop() {
	if loopDone := c.cancelLoop(); loopDone != nil {
		<-loopDone
	}
}

// cancelLoop cancels the loop and returns the channel closed when it has
// returned, or nil if no loop is running.
func (c *Controller) cancelLoop() <-chan struct{} {
	c.mu.Lock()
	cancel, loopDone := c.cancel, c.loopDone
	c.cancel, c.loopDone = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return loopDone
}

func waitFor(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) run(ctx context.Context, stream audio.Stream, loopDone chan struct{}) {
	defer close(loopDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cfg := stream.Config()
	for ctx.Err() == nil {
		frame, err := stream.ReadFrame()
		readAt := time.Now()
		if ctx.Err() != nil {
			// Pause, reconfigure or terminate was requested during the read.
			if err != nil {
				log.Debugf("Capture: Read error after stop request: %v", err)
			}
			return
		}
		if err != nil {
			c.fail(stream, err)
			return
		}
		c.process(frame, cfg, readAt)
	}
}

func (c *Controller) process(frame audio.Frame, cfg audio.StreamConfig, readAt time.Time) {
	snapshot, peaks, err := c.analyzer.Analyze(frame)
	if err != nil {
		log.Warnf("Analysis: Skipping buffer: %v", err)
		c.rec.AnalysisError(analysisReason(err))
		return
	}

	c.mailbox.Publish(Message{
		Seq:        c.seq.Add(1),
		Snapshot:   snapshot,
		Peaks:      peaks,
		Stream:     cfg,
		CapturedAt: readAt,
	})
	c.rec.ObserveCycle(time.Since(readAt), frame.Level())
}

func analysisReason(err error) string {
	switch {
	case errors.Is(err, analysis.ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, analysis.ErrInvalidSampleRate):
		return "invalid_sample_rate"
	default:
		return "other"
	}
}

// fail is called by the loop on a read error. The stream is closed here, on
// the loop goroutine, since no read is in flight.
func (c *Controller) fail(stream audio.Stream, err error) {
	op := "read"
	var devErr *audio.DeviceError
	if errors.As(err, &devErr) {
		op = devErr.Op
	}
	c.rec.DeviceError(op)
	log.Errorf("Capture: Device error, closing stream: %v", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != stream || c.state == Closed {
		return
	}
	if closeErr := c.closeStreamLocked(); closeErr != nil {
		log.Warnf("Capture: Closing failed stream: %v", closeErr)
	}
	c.closeLocked(err)
}

func (c *Controller) closeStreamLocked() error {
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	c.rec.StreamClosed()
	return err
}

// closeLocked moves to Closed, records err and releases consumers.
func (c *Controller) closeLocked(err error) {
	if c.state == Closed {
		return
	}
	c.state = Closed
	c.err = err
	close(c.done)
	c.mailbox.Close()
}

func (c *Controller) closedErrLocked() error {
	if c.err != nil {
		return fmt.Errorf("controller closed: %w", c.err)
	}
	return fmt.Errorf("controller closed: %w", ErrInvalidState)
}
