package main

import (
	"log/slog"
	"time"

	"github.com/mizrachiran/brewos/internal/bridgelink"
	"github.com/mizrachiran/brewos/internal/diag"
	"github.com/mizrachiran/brewos/internal/frame"
	"github.com/mizrachiran/brewos/internal/parser"
	"github.com/mizrachiran/brewos/internal/proto"
	"github.com/mizrachiran/brewos/internal/retry"
	"github.com/mizrachiran/brewos/internal/uart"
)

// bridge is the connectivity-board side of the link: it initiates the
// handshake, tracks outbound commands through internal/retry's
// pending-command table, and reacts to BUSY NACKs with internal/bridgelink's
// backoff schedule instead of the table's fixed ACK_TIMEOUT retry.
type bridge struct {
	l    *slog.Logger
	port uart.Port

	parser *parser.Parser
	neg    *diag.Negotiator
	table  *retry.Table
	backNK *bridgelink.Policy

	txSeq uint8

	busy []busyRetry

	lastStatus proto.Status
	started    time.Time
}

// busyRetry is a command parked after a BUSY NACK, waiting for its
// bridgelink-scheduled redelivery.
type busyRetry struct {
	typ     proto.MsgType
	payload []byte
	readyAt time.Time
}

// newBridge wires a bridge. now defaults to time.Now; tests inject a
// controllable clock so internal/retry's AckTimeout/MaxRetries bookkeeping
// advances on the same simulated time as the test, instead of real wall
// time.
func newBridge(l *slog.Logger, port uart.Port, now func() time.Time) *bridge {
	if now == nil {
		now = time.Now
	}
	b := &bridge{
		l:       l,
		port:    port,
		parser:  parser.New(nil),
		neg:     diag.New(),
		backNK:  bridgelink.New(),
		started: now(),
	}
	b.table = retry.New(b.sendTracked, now)
	return b
}

// sendTracked is internal/retry's Send capability: it re-encodes and writes
// a tracked command's wire bytes for both the first send and every retry.
func (b *bridge) sendTracked(typ proto.MsgType, seq uint8, payload []byte) error {
	_, err := b.port.Write(frame.Encode(typ, seq, payload))
	return err
}

// sendFrame writes one untracked frame (handshake, ping) with a fresh
// sequence number.
func (b *bridge) sendFrame(t proto.MsgType, payload []byte) {
	b.txSeq++
	if _, err := b.port.Write(frame.Encode(t, b.txSeq, payload)); err != nil {
		b.l.Error("uart_write_failed", "error", err)
	}
}

// startHandshake sends this side's offer; the link is not considered up
// until the controller's reply reaches feedByte.
func (b *bridge) startHandshake() {
	b.sendFrame(proto.MsgHandshake, b.neg.Offer().Marshal())
}

func (b *bridge) linkUp() bool { return b.neg.Done() }

// sendCommand enqueues a command behind internal/retry's ACK tracking. It
// fails with retry.ErrTableFull if MaxPending commands are already
// in-flight.
func (b *bridge) sendCommand(typ proto.MsgType, payload []byte) error {
	b.txSeq++
	return b.table.Enqueue(typ, b.txSeq, payload)
}

func (b *bridge) sendPing(now time.Time) {
	b.sendFrame(proto.MsgPing, proto.Ping{TimestampMS: uint32(now.Sub(b.started).Milliseconds())}.Marshal())
}

// feedByte consumes one raw UART byte from the controller.
func (b *bridge) feedByte(now time.Time, raw byte) {
	ev := b.parser.Feed(raw)
	switch ev.Kind {
	case parser.EventFrame:
		b.handleFrame(now, frame.Frame{Type: ev.Frame, Seq: ev.Seq, Payload: ev.Payload})
	case parser.EventCrcError, parser.EventFramingError, parser.EventTimeout:
		b.l.Debug("inbound_link_error", "kind", int(ev.Kind))
	}
}

func (b *bridge) handleFrame(now time.Time, f frame.Frame) {
	switch f.Type {
	case proto.MsgHandshake:
		peer, err := proto.UnmarshalHandshake(f.Payload)
		if err != nil {
			return
		}
		if err := b.neg.Accept(peer); err != nil {
			b.l.Warn("handshake_incompatible", "error", err)
			return
		}
		b.l.Info("handshake_complete", "peer_minor", peer.ProtoMinor)
	case proto.MsgAck:
		b.onSettled(now, f.Payload, false)
	case proto.MsgNack:
		b.onSettled(now, f.Payload, true)
	case proto.MsgStatus:
		if st, err := proto.UnmarshalStatus(f.Payload); err == nil {
			b.lastStatus = st
		}
	case proto.MsgAlarm:
		if al, err := proto.UnmarshalAlarm(f.Payload); err == nil {
			b.l.Warn("controller_alarm", "code", al.Code, "severity", al.Severity)
		}
	case proto.MsgBoot:
		if bo, err := proto.UnmarshalBoot(f.Payload); err == nil {
			b.l.Info("controller_boot", "fw", bo.FWMajor, "machine_type", bo.MachineType)
		}
	case proto.MsgConfig, proto.MsgEnvConfig, proto.MsgPowerMeter:
		// Telemetry/config snapshots; nothing to track for the smoke tests.
	}
}

// onSettled resolves a pending command against its ACK or NACK. A BUSY
// NACK is not a terminal failure: it is parked for redelivery after the
// bridgelink backoff interval instead of being dropped by internal/retry's
// fail-fast Nack path.
func (b *bridge) onSettled(now time.Time, payload []byte, nack bool) {
	typ := proto.MsgAck
	if nack {
		typ = proto.MsgNack
	}
	ack, err := proto.UnmarshalAck(typ, payload)
	if err != nil {
		return
	}
	if !nack {
		b.backNK.OnDelivered()
		_, _ = b.table.Ack(ack.CmdSeq)
		return
	}
	if ack.Result == proto.ResultBusy {
		pending, ok := b.table.Peek(ack.CmdSeq)
		_, _ = b.table.Nack(ack.CmdSeq)
		if !ok {
			return
		}
		delay := b.backNK.OnNack()
		b.busy = append(b.busy, busyRetry{typ: pending.Type, payload: pending.Payload, readyAt: now.Add(delay)})
		return
	}
	_, _ = b.table.Nack(ack.CmdSeq)
}

// tick drives the pending-command table's ACK-timeout retries and releases
// any BUSY-NACKed command whose backoff interval has elapsed. It must be
// called on the same cadence as outbound traffic is produced.
func (b *bridge) tick(now time.Time) {
	for _, ex := range b.table.Tick() {
		b.l.Error("command_exhausted_retries", "type", ex.Type, "seq", ex.Seq)
	}

	var still []busyRetry
	for _, r := range b.busy {
		if now.Before(r.readyAt) {
			still = append(still, r)
			continue
		}
		if err := b.sendCommand(r.typ, r.payload); err != nil {
			// Table still full: keep waiting and retry next tick.
			still = append(still, r)
		}
	}
	b.busy = still
}
