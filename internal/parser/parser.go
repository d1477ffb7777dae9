// Package parser implements the byte-at-a-time frame parser state machine,
// including the 500 ms watchdog that resets a partial frame back to
// WaitSync. Feed consumes one byte and returns zero or one event, so the
// caller never has to buffer ahead of the UART; on garbage it hunts for the
// next sync byte and resynchronizes rather than giving up.
package parser

import (
	"time"

	"github.com/mizrachiran/brewos/internal/frame"
	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

// State names the parser's current position in a frame.
type State int

const (
	WaitSync State = iota
	GotType
	GotLength
	GotSeq
	ReadPayload
	ReadCrcLo
	ReadCrcHi
)

// EventKind classifies what Feed produced.
type EventKind int

const (
	EventNone EventKind = iota
	EventFrame
	EventCrcError
	EventFramingError
	EventTimeout
)

// Event is the result of feeding one byte (or of a watchdog tick).
type Event struct {
	Kind  EventKind
	Frame proto.MsgType // valid only when Kind == EventFrame (use Payload/Seq too)
	Seq   uint8
	Payload []byte
}

// Timeout is the parser watchdog window.
const Timeout = 500 * time.Millisecond

// Parser is a single-byte-at-a-time frame consumer. It is not safe for
// concurrent use; the caller (the dispatcher's inbound drain) owns it.
type Parser struct {
	state      State
	typ        proto.MsgType
	length     int
	seq        uint8
	payload    []byte
	remaining  int
	crc        uint16
	crcLo      byte
	lastByteAt time.Time
	now        func() time.Time
}

// New creates a Parser. now defaults to time.Now if nil (tests may inject
// a fake clock to exercise the watchdog deterministically).
func New(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{state: WaitSync, now: now}
}

// Feed consumes one byte and returns an event. EventNone means "keep
// feeding"; any other kind is a terminal event for the frame currently
// being assembled (the parser resets to WaitSync internally when needed).
func (p *Parser) Feed(b byte) Event {
	p.lastByteAt = p.now()
	switch p.state {
	case WaitSync:
		if b == proto.SyncByte {
			p.state = GotType
		}
		return Event{Kind: EventNone}
	case GotType:
		p.typ = proto.MsgType(b)
		p.state = GotLength
		return Event{Kind: EventNone}
	case GotLength:
		if int(b) > proto.MaxPayload {
			p.reset()
			metrics.IncFramingError()
			return Event{Kind: EventFramingError}
		}
		p.length = int(b)
		p.remaining = p.length
		p.payload = make([]byte, 0, p.length)
		p.state = GotSeq
		return Event{Kind: EventNone}
	case GotSeq:
		p.seq = b
		if p.remaining == 0 {
			p.state = ReadCrcLo
		} else {
			p.state = ReadPayload
		}
		return Event{Kind: EventNone}
	case ReadPayload:
		p.payload = append(p.payload, b)
		p.remaining--
		// Defensive bound: length is already capped at MaxPayload above, so
		// this never triggers given a correct length byte; it exists only to
		// avoid unbounded growth if that invariant is ever violated upstream.
		if len(p.payload) > proto.MaxPayload {
			p.reset()
			metrics.IncFramingError()
			return Event{Kind: EventFramingError}
		}
		if p.remaining == 0 {
			p.state = ReadCrcLo
		}
		return Event{Kind: EventNone}
	case ReadCrcLo:
		p.crcLo = b
		p.state = ReadCrcHi
		return Event{Kind: EventNone}
	case ReadCrcHi:
		wireCrc := uint16(p.crcLo) | uint16(b)<<8
		computed := p.computeCRC()
		defer p.reset()
		if wireCrc != computed {
			metrics.IncCRCError()
			return Event{Kind: EventCrcError}
		}
		return Event{Kind: EventFrame, Frame: p.typ, Seq: p.seq, Payload: append([]byte(nil), p.payload...)}
	default:
		p.reset()
		return Event{Kind: EventFramingError}
	}
}

func (p *Parser) computeCRC() uint16 {
	header := make([]byte, 3+len(p.payload))
	header[0] = byte(p.typ)
	header[1] = byte(p.length)
	header[2] = p.seq
	copy(header[3:], p.payload)
	return frame.CRC16(header)
}

func (p *Parser) reset() {
	p.state = WaitSync
	p.typ = 0
	p.length = 0
	p.remaining = 0
	p.seq = 0
	p.payload = nil
	p.crcLo = 0
}

// CheckWatchdog resets the parser to WaitSync if it has been mid-frame for
// longer than Timeout with no new byte. It must be called periodically
// (e.g., once per control tick) on bytes-idle periods.
func (p *Parser) CheckWatchdog() Event {
	if p.state == WaitSync {
		return Event{Kind: EventNone}
	}
	if p.now().Sub(p.lastByteAt) >= Timeout {
		p.reset()
		metrics.IncParserTimeout()
		return Event{Kind: EventTimeout}
	}
	return Event{Kind: EventNone}
}

// State returns the parser's current state, mainly for tests/diagnostics.
func (p *Parser) State() State { return p.state }
