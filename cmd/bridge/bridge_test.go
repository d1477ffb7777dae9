package main

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mizrachiran/brewos/internal/bridgelink"
	"github.com/mizrachiran/brewos/internal/diag"
	"github.com/mizrachiran/brewos/internal/frame"
	"github.com/mizrachiran/brewos/internal/proto"
	"github.com/mizrachiran/brewos/internal/retry"
)

// memPort is an in-memory uart.Port used the same way cmd/controller's
// tests use one: writes accumulate for inspection, reads are unused since
// these tests drive feedByte directly.
type memPort struct {
	mu sync.Mutex
	tx []byte
}

func (p *memPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *memPort) Read([]byte) (int, error) { return 0, io.EOF }
func (p *memPort) Close() error             { return nil }

func (p *memPort) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.tx...)
}

func (p *memPort) drain() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]byte(nil), p.tx...)
	p.tx = nil
	return out
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// testClock is a manually-advanced clock shared between a bridge's
// internal/retry table and the `now` a test feeds into feedByte/tick, so
// both advance in lockstep under the test's control.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time      { return c.t }
func (c *testClock) advance(d time.Duration) time.Time { c.t = c.t.Add(d); return c.t }

func newTestBridge() (*bridge, *memPort, *testClock) {
	port := &memPort{}
	clock := &testClock{t: time.Now()}
	b := newBridge(testLogger(), port, clock.now)
	return b, port, clock
}

func decodeFrames(t *testing.T, b []byte) []frame.Frame {
	t.Helper()
	var out []frame.Frame
	for len(b) > 0 {
		if len(b) < 4 {
			t.Fatalf("trailing partial frame header: %d bytes", len(b))
		}
		n := int(b[2])
		total := 4 + n + 2
		if len(b) < total {
			t.Fatalf("trailing partial frame body: want %d have %d", total, len(b))
		}
		f, err := frame.Decode(b[:total])
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, f)
		b = b[total:]
	}
	return out
}

func feedFrame(b *bridge, now time.Time, typ proto.MsgType, seq uint8, payload []byte) {
	wire := frame.Encode(typ, seq, payload)
	for _, c := range wire {
		b.feedByte(now, c)
	}
}

func TestStartHandshakeSendsOffer(t *testing.T) {
	b, port, _ := newTestBridge()
	b.startHandshake()

	frames := decodeFrames(t, port.bytes())
	if len(frames) != 1 || frames[0].Type != proto.MsgHandshake {
		t.Fatalf("want one handshake frame, got %#v", frames)
	}
	hs, err := proto.UnmarshalHandshake(frames[0].Payload)
	if err != nil {
		t.Fatalf("unmarshal handshake: %v", err)
	}
	if hs.ProtoMajor != diag.ProtoMajor {
		t.Fatalf("want proto major %d, got %d", diag.ProtoMajor, hs.ProtoMajor)
	}
}

func TestHandshakeReplyMarksLinkUp(t *testing.T) {
	b, _, clock := newTestBridge()

	peer := proto.Handshake{ProtoMajor: diag.ProtoMajor, ProtoMinor: diag.ProtoMinor, MaxPacketSize: proto.MaxFrame}
	feedFrame(b, clock.now(), proto.MsgHandshake, 1, peer.Marshal())

	if !b.linkUp() {
		t.Fatal("want link up after compatible handshake reply")
	}
}

func TestSendCommandAckedClearsSlot(t *testing.T) {
	b, _, clock := newTestBridge()

	cmd := proto.SetTemp{Target: proto.TargetBrew, TempC10: 955}
	if err := b.sendCommand(proto.MsgSetTemp, cmd.Marshal()); err != nil {
		t.Fatalf("send command: %v", err)
	}
	if got := b.table.Pending(); got != 1 {
		t.Fatalf("want 1 pending command, got %d", got)
	}

	ack := proto.AckPayload{CmdType: proto.MsgSetTemp, CmdSeq: b.txSeq, Result: proto.ResultSuccess}
	feedFrame(b, clock.now(), proto.MsgAck, 2, ack.Marshal())

	if got := b.table.Pending(); got != 0 {
		t.Fatalf("want 0 pending commands after ACK, got %d", got)
	}
}

func TestBusyNackSchedulesBackoffRedelivery(t *testing.T) {
	b, port, clock := newTestBridge()

	cmd := proto.SetTemp{Target: proto.TargetBrew, TempC10: 955}
	if err := b.sendCommand(proto.MsgSetTemp, cmd.Marshal()); err != nil {
		t.Fatalf("send command: %v", err)
	}
	sentSeq := b.txSeq
	port.drain()

	nack := proto.AckPayload{CmdType: proto.MsgSetTemp, CmdSeq: sentSeq, Result: proto.ResultBusy}
	feedFrame(b, clock.now(), proto.MsgNack, 3, nack.Marshal())

	if got := b.table.Pending(); got != 0 {
		t.Fatalf("want BUSY nack to free the table slot, got %d pending", got)
	}
	if len(b.busy) != 1 {
		t.Fatalf("want one parked busy-retry, got %d", len(b.busy))
	}

	// Before the backoff interval elapses, tick must not resend.
	b.tick(clock.now())
	if len(decodeFrames(t, port.drain())) != 0 {
		t.Fatal("want no resend before the backoff interval elapses")
	}

	// After the interval, tick must redeliver the same command.
	later := clock.advance(bridgelink.InitialInterval + time.Millisecond)
	b.tick(later)
	frames := decodeFrames(t, port.drain())
	if len(frames) != 1 || frames[0].Type != proto.MsgSetTemp {
		t.Fatalf("want one redelivered SET_TEMP, got %#v", frames)
	}
	if len(b.busy) != 0 {
		t.Fatal("want the busy-retry queue drained after redelivery")
	}
}

func TestAckTimeoutExhaustionIsReported(t *testing.T) {
	b, _, clock := newTestBridge()

	cmd := proto.Ping{TimestampMS: 1}
	if err := b.sendCommand(proto.MsgPing, cmd.Marshal()); err != nil {
		t.Fatalf("send command: %v", err)
	}

	for i := 0; i < retry.MaxRetries+1; i++ {
		now := clock.advance(retry.AckTimeout + time.Millisecond)
		b.tick(now)
	}

	if got := b.table.Pending(); got != 0 {
		t.Fatalf("want the exhausted command's slot freed, got %d pending", got)
	}
}
