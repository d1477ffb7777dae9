package parser

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/mizrachiran/brewos/internal/frame"
	"github.com/mizrachiran/brewos/internal/proto"
)

func feedAll(p *Parser, b []byte) []Event {
	var events []Event
	for _, c := range b {
		if e := p.Feed(c); e.Kind != EventNone {
			events = append(events, e)
		}
	}
	return events
}

func TestParserDecodesWellFormedFrame(t *testing.T) {
	p := New(nil)
	wire := frame.Encode(proto.MsgStatus, 7, []byte{1, 2, 3})
	events := feedAll(p, wire)
	if len(events) != 1 || events[0].Kind != EventFrame {
		t.Fatalf("want one EventFrame, got %+v", events)
	}
	e := events[0]
	if e.Frame != proto.MsgStatus || e.Seq != 7 || !bytes.Equal(e.Payload, []byte{1, 2, 3}) {
		t.Fatalf("unexpected frame: %+v", e)
	}
}

func TestParserRobustToGarbageInterleaving(t *testing.T) {
	p := New(nil)
	f1 := frame.Encode(proto.MsgPing, 1, nil)
	f2 := frame.Encode(proto.MsgAck, 2, []byte{1, 2, 3, 4})

	rng := rand.New(rand.NewSource(1))
	garbage := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}

	var stream []byte
	stream = append(stream, garbage(5)...)
	stream = append(stream, f1...)
	stream = append(stream, garbage(3)...)
	stream = append(stream, f2...)
	stream = append(stream, garbage(2)...)

	events := feedAll(p, stream)
	var frames []Event
	for _, e := range events {
		if e.Kind == EventFrame {
			frames = append(frames, e)
		}
	}
	if len(frames) != 2 {
		t.Fatalf("want 2 well-formed frames amid garbage, got %d (%+v)", len(frames), events)
	}
	if frames[0].Frame != proto.MsgPing || frames[0].Seq != 1 {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
	if frames[1].Frame != proto.MsgAck || frames[1].Seq != 2 {
		t.Fatalf("unexpected second frame: %+v", frames[1])
	}
}

func TestParserWatchdogTimeout(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	p := New(clock)

	wire := frame.Encode(proto.MsgStatus, 1, []byte{1, 2, 3, 4})
	// Feed a strict prefix only (stop mid-payload).
	prefix := wire[:5]
	for _, b := range prefix {
		p.Feed(b)
	}
	if p.State() == WaitSync {
		t.Fatalf("parser should be mid-frame after a strict prefix")
	}

	now = now.Add(Timeout)
	ev := p.CheckWatchdog()
	if ev.Kind != EventTimeout {
		t.Fatalf("want EventTimeout, got %+v", ev)
	}
	if p.State() != WaitSync {
		t.Fatalf("parser should reset to WaitSync after timeout")
	}

	// A second check before any further bytes must not fire again.
	ev2 := p.CheckWatchdog()
	if ev2.Kind != EventNone {
		t.Fatalf("watchdog must not refire with no activity: %+v", ev2)
	}
}

func TestParserOversizeLengthByteResyncs(t *testing.T) {
	p := New(nil)
	stream := []byte{proto.SyncByte, byte(proto.MsgStatus), 200} // length > MaxPayload
	var ev Event
	for _, b := range stream {
		if e := p.Feed(b); e.Kind != EventNone {
			ev = e
		}
	}
	if ev.Kind != EventFramingError {
		t.Fatalf("want EventFramingError for oversize length, got %+v", ev)
	}
	if p.State() != WaitSync {
		t.Fatalf("parser must resync to WaitSync")
	}
}

func TestParserCrcErrorResyncs(t *testing.T) {
	p := New(nil)
	wire := frame.Encode(proto.MsgPing, 0, []byte{1, 2, 3, 4})
	wire[len(wire)-1] ^= 0xFF
	events := feedAll(p, wire)
	if len(events) != 1 || events[0].Kind != EventCrcError {
		t.Fatalf("want one EventCrcError, got %+v", events)
	}
	if p.State() != WaitSync {
		t.Fatalf("parser must resync to WaitSync after CRC error")
	}
}
