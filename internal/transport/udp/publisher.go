// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"strobe/internal/capture"
	"strobe/internal/log"
)

// MessageSource provides the newest analysis message. *capture.Controller
// implements it.
type MessageSource interface {
	Latest() (capture.Message, bool)
}

// PacketSender sends one datagram. *UDPSender implements it.
type PacketSender interface {
	Send(data []byte) error
}

// HeaderSize is the fixed part of a spectrum packet.
const HeaderSize = 4 + 8 + 2

// MaxMagnitudes is the most magnitudes one packet can carry.
const MaxMagnitudes = math.MaxUint16

// UDPPublisher periodically packs the newest spectrum snapshot into a binary
// packet and sends it. A snapshot is sent once; ticks without a new message
// send nothing.
type UDPPublisher struct {
	sender   PacketSender
	source   MessageSource
	interval time.Duration

	sequenceNum uint32
	lastSeq     uint64

	// Reused between packets.
	magnitudes   []float64
	f32          []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher. An invalid interval defaults to 16ms.
func NewUDPPublisher(interval time.Duration, sender PacketSender, source MessageSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("UDPPublisher: message source cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		log.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &UDPPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Run publishes until ctx is cancelled.
func (p *UDPPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Infof("UDPPublisher: Publishing every %s", p.interval)
	for {
		select {
		case <-ctx.Done():
			log.Infof("UDPPublisher: Stopped after %d packets", p.sequenceNum)
			return nil
		case <-ticker.C:
			if _, err := p.PublishLatest(); err != nil {
				log.Debugf("UDPPublisher: %v", err)
			}
		}
	}
}

/*
UDP Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |   Magnitude   |       Magnitudes        |
|      (uint32)     |  (int64, ns, capture) |  Count (N)    |      (N * float32)      |
+-------------------+-----------------------+---------------+-------------------------+
*/

// PublishLatest sends the newest snapshot if it has not been sent yet and
// reports whether a packet went out.
func (p *UDPPublisher) PublishLatest() (bool, error) {
	msg, ok := p.source.Latest()
	if !ok || msg.Seq == p.lastSeq {
		return false, nil
	}
	p.lastSeq = msg.Seq

	p.magnitudes = msg.Snapshot.Magnitudes(p.magnitudes)
	if len(p.magnitudes) > MaxMagnitudes {
		p.magnitudes = p.magnitudes[:MaxMagnitudes]
	}
	p.f32 = p.f32[:0]
	for _, v := range p.magnitudes {
		p.f32 = append(p.f32, float32(v))
	}

	p.sequenceNum++
	if err := encodePacket(p.packetBuffer, p.sequenceNum, msg.CapturedAt.UnixNano(), p.f32); err != nil {
		return false, fmt.Errorf("packing packet %d: %w", p.sequenceNum, err)
	}
	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		return false, err
	}
	log.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	return true, nil
}

func encodePacket(buf *bytes.Buffer, seq uint32, timestamp int64, magnitudes []float32) error {
	buf.Reset()
	buf.Grow(HeaderSize + 4*len(magnitudes))
	err := binary.Write(buf, binary.BigEndian, seq)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, timestamp)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint16(len(magnitudes)))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, magnitudes)
	}
	return err
}

// Packet is a decoded spectrum packet.
type Packet struct {
	Seq        uint32
	Timestamp  time.Time
	Magnitudes []float32
}

// DecodePacket parses a spectrum packet.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("packet of %d bytes is shorter than the %d byte header", len(data), HeaderSize)
	}
	seq := binary.BigEndian.Uint32(data[0:4])
	ts := int64(binary.BigEndian.Uint64(data[4:12]))
	count := int(binary.BigEndian.Uint16(data[12:14]))
	if len(data) != HeaderSize+4*count {
		return Packet{}, fmt.Errorf("packet declares %d magnitudes but carries %d bytes", count, len(data)-HeaderSize)
	}

	mags := make([]float32, count)
	for i := range mags {
		off := HeaderSize + 4*i
		mags[i] = math.Float32frombits(binary.BigEndian.Uint32(data[off : off+4]))
	}
	return Packet{Seq: seq, Timestamp: time.Unix(0, ts), Magnitudes: mags}, nil
}
