// Package retry implements the pending-command table: every outbound
// command that expects an ACK/NACK is tracked here until it is
// acknowledged, rejected, or exhausts its retries. The fixed-size slot
// table has a single owner (the tick scheduler); callers only enqueue or
// poll it, never touch slot state concurrently.
package retry

import (
	"errors"
	"time"

	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

// Tunables for the pending-command table.
const (
	MaxPending = 4
	MaxRetries = 3
	AckTimeout = 1000 * time.Millisecond
)

// Sentinel errors, classified via errors.Is by callers that need to react
// differently (e.g. a full table on ErrTableFull versus a stale reply on
// ErrUnknown).
var (
	ErrTableFull = errors.New("retry: pending table full")
	ErrUnknown   = errors.New("retry: no pending command for seq")
	ErrExhausted = errors.New("retry: command exhausted all retries")
)

// Outcome reports what happened to a pending command when it settles.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeAcked
	OutcomeNacked
	OutcomeExhausted
)

// pending tracks one in-flight command awaiting ACK/NACK.
type pending struct {
	inUse       bool
	seq         uint8
	typ         proto.MsgType
	payload     []byte
	sentAt      time.Time
	retriesUsed int
}

// Send is the capability the table uses to (re)transmit a command's wire
// bytes; it is injected so Table never imports internal/frame or internal/uart
// directly and stays testable with a recording stub.
type Send func(typ proto.MsgType, seq uint8, payload []byte) error

// Table is the pending-command / retry engine. It is not safe for concurrent
// use: the tick scheduler is its single owner, matching the link's
// cooperative single-threaded model.
type Table struct {
	slots [MaxPending]pending
	send  Send
	now   func() time.Time
}

// New creates a Table that transmits via send. now defaults to time.Now.
func New(send Send, now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{send: send, now: now}
}

// Enqueue registers a new outbound command and performs its first send. It
// fails with ErrTableFull if all MaxPending slots are occupied.
func (t *Table) Enqueue(typ proto.MsgType, seq uint8, payload []byte) error {
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = pending{
				inUse:   true,
				seq:     seq,
				typ:     typ,
				payload: append([]byte(nil), payload...),
				sentAt:  t.now(),
			}
			return t.send(typ, seq, payload)
		}
	}
	return ErrTableFull
}

// Ack settles the pending command with seq as acknowledged and frees its slot.
func (t *Table) Ack(seq uint8) (Outcome, error) {
	i := t.find(seq)
	if i < 0 {
		return OutcomeNone, ErrUnknown
	}
	t.slots[i] = pending{}
	return OutcomeAcked, nil
}

// Nack settles the pending command with seq as rejected (fail-fast: a NACK
// does not retry) and frees its slot.
func (t *Table) Nack(seq uint8) (Outcome, error) {
	i := t.find(seq)
	if i < 0 {
		return OutcomeNone, ErrUnknown
	}
	t.slots[i] = pending{}
	return OutcomeNacked, nil
}

// PendingCommand describes the type and payload of one in-flight command,
// as returned by Peek.
type PendingCommand struct {
	Type    proto.MsgType
	Payload []byte
}

// Peek reports the type and payload of the pending command with seq
// without settling it, so a caller can re-schedule it under a different
// policy (a bridge-side BUSY NACK backs off and redelivers rather than
// following this table's own fixed ACK_TIMEOUT schedule).
func (t *Table) Peek(seq uint8) (PendingCommand, bool) {
	i := t.find(seq)
	if i < 0 {
		return PendingCommand{}, false
	}
	return PendingCommand{Type: t.slots[i].typ, Payload: append([]byte(nil), t.slots[i].payload...)}, true
}

// Tick re-sends any command whose AckTimeout has elapsed, up to MaxRetries
// retransmits, and reports commands that exhausted their retries so the
// caller can raise a comms alarm. It must be called once per scheduler tick.
func (t *Table) Tick() []ExhaustedCommand {
	var exhausted []ExhaustedCommand
	now := t.now()
	for i := range t.slots {
		s := &t.slots[i]
		if !s.inUse {
			continue
		}
		if now.Sub(s.sentAt) < AckTimeout {
			continue
		}
		if s.retriesUsed >= MaxRetries {
			exhausted = append(exhausted, ExhaustedCommand{Type: s.typ, Seq: s.seq})
			*s = pending{}
			metrics.IncAckTimeout()
			continue
		}
		s.retriesUsed++
		s.sentAt = now
		metrics.IncRetry()
		if err := t.send(s.typ, s.seq, s.payload); err != nil {
			// Leave the slot pending; it will be retried again next tick.
			continue
		}
	}
	return exhausted
}

// ExhaustedCommand names a command that used up all of its retries without
// an ACK.
type ExhaustedCommand struct {
	Type proto.MsgType
	Seq  uint8
}

// Pending reports how many slots are currently occupied, used by the
// backpressure policy (internal/backpressure) to decide whether to NACK new
// inbound commands.
func (t *Table) Pending() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].inUse {
			n++
		}
	}
	return n
}

func (t *Table) find(seq uint8) int {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].seq == seq {
			return i
		}
	}
	return -1
}

// RxResult classifies an inbound sequence number against the link's
// duplicate/out-of-order/wrap rules.
type RxResult int

const (
	RxAccepted RxResult = iota
	RxDuplicate
	RxOutOfOrder
)

// SeqFilter tracks the last accepted inbound sequence number for one peer
// and classifies each new arrival.
type SeqFilter struct {
	hasLast bool
	last    uint8
}

// Check classifies seq without mutating filter state; call Accept to both
// classify and (if accepted) advance last.
func (f *SeqFilter) Check(seq uint8) RxResult {
	if !f.hasLast {
		return RxAccepted
	}
	if seq == f.last {
		return RxDuplicate
	}
	backward := f.last - seq // uint8 wraparound arithmetic
	if backward <= 128 {
		return RxOutOfOrder
	}
	return RxAccepted
}

// Accept classifies seq and, if accepted, advances the filter's last-seen
// sequence. It also increments the relevant diagnostics counter.
func (f *SeqFilter) Accept(seq uint8) RxResult {
	r := f.Check(seq)
	switch r {
	case RxAccepted:
		f.last = seq
		f.hasLast = true
	case RxDuplicate:
		metrics.IncDuplicate()
	case RxOutOfOrder:
		metrics.IncOutOfOrder()
	}
	return r
}
