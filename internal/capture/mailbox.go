// SPDX-License-Identifier: MIT
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"strobe/internal/analysis"
	"strobe/internal/audio"
)

// Message is the result of one analysis cycle. It is never mutated after
// publication, so consumers may keep it as long as they like.
type Message struct {
	Seq        uint64
	Snapshot   analysis.Snapshot
	Peaks      analysis.PeakSet
	Stream     audio.StreamConfig
	CapturedAt time.Time
}

// BufferDuration is the duration of the buffer the message was computed from.
func (m Message) BufferDuration() time.Duration {
	return m.Stream.BufferDuration()
}

// Subscription receives every published message in production order. When
// the consumer falls behind the oldest queued message is dropped; the
// producer never waits.
type Subscription struct {
	C <-chan Message

	ch      chan Message
	dropped atomic.Uint64
}

// Dropped returns how many messages were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Mailbox hands messages from the capture loop to any number of consumers.
// Latest gives the newest message without consuming it; Subscribe gives a
// bounded queue.
type Mailbox struct {
	mu     sync.Mutex
	latest Message
	has    bool
	subs   map[*Subscription]struct{}
	closed bool
	onDrop func(n int)
}

// NewMailbox returns an empty mailbox. onDrop, if not nil, is called with the
// number of messages dropped by a publish.
func NewMailbox(onDrop func(n int)) *Mailbox {
	return &Mailbox{
		subs:   make(map[*Subscription]struct{}),
		onDrop: onDrop,
	}
}

// Publish stores msg as the latest message and offers it to every
// subscription. It never blocks. Publishing to a closed mailbox is a no-op.
func (m *Mailbox) Publish(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.latest = msg
	m.has = true

	dropped := 0
	for sub := range m.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// Full: make room by discarding the oldest entry. Publish is the only
		// sender and holds mu, so the second send cannot race another.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			dropped++
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}
	if dropped > 0 && m.onDrop != nil {
		m.onDrop(dropped)
	}
}

// Latest returns the most recent message and whether one was ever published.
// It does not consume anything.
func (m *Mailbox) Latest() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.has
}

// Subscribe returns a subscription queueing up to size messages. A size
// below one is treated as one. Subscribing to a closed mailbox returns a
// subscription whose channel is already closed.
func (m *Mailbox) Subscribe(size int) *Subscription {
	ch := make(chan Message, max(size, 1))
	sub := &Subscription{C: ch, ch: ch}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return sub
	}
	m.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe stops delivery to sub and closes its channel.
func (m *Mailbox) Unsubscribe(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub]; !ok {
		return
	}
	delete(m.subs, sub)
	close(sub.ch)
}

// Close closes every subscription channel. Latest keeps answering with the
// last message.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for sub := range m.subs {
		close(sub.ch)
	}
	clear(m.subs)
}
