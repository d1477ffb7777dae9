package retry

import (
	"testing"
	"time"

	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

type recorder struct {
	sends []sendCall
	fail  bool
}

type sendCall struct {
	typ proto.MsgType
	seq uint8
}

func (r *recorder) send(typ proto.MsgType, seq uint8, payload []byte) error {
	r.sends = append(r.sends, sendCall{typ, seq})
	return nil
}

func TestEnqueueSendsImmediately(t *testing.T) {
	rec := &recorder{}
	tbl := New(rec.send, nil)
	if err := tbl.Enqueue(proto.MsgSetTemp, 1, []byte{1, 2, 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(rec.sends) != 1 || rec.sends[0].seq != 1 {
		t.Fatalf("want one immediate send, got %+v", rec.sends)
	}
	if tbl.Pending() != 1 {
		t.Fatalf("want 1 pending, got %d", tbl.Pending())
	}
}

func TestAckFreesSlot(t *testing.T) {
	rec := &recorder{}
	tbl := New(rec.send, nil)
	_ = tbl.Enqueue(proto.MsgPing, 5, nil)
	outcome, err := tbl.Ack(5)
	if err != nil || outcome != OutcomeAcked {
		t.Fatalf("ack: outcome=%v err=%v", outcome, err)
	}
	if tbl.Pending() != 0 {
		t.Fatalf("want 0 pending after ack, got %d", tbl.Pending())
	}
	if _, err := tbl.Ack(5); err != ErrUnknown {
		t.Fatalf("double ack should fail with ErrUnknown, got %v", err)
	}
}

func TestNackDoesNotRetry(t *testing.T) {
	rec := &recorder{}
	tbl := New(rec.send, nil)
	_ = tbl.Enqueue(proto.MsgMode, 9, []byte{1})
	outcome, err := tbl.Nack(9)
	if err != nil || outcome != OutcomeNacked {
		t.Fatalf("nack: outcome=%v err=%v", outcome, err)
	}
	if tbl.Pending() != 0 {
		t.Fatalf("nack must free the slot immediately, got pending=%d", tbl.Pending())
	}
}

func TestPeekReportsWithoutSettling(t *testing.T) {
	rec := &recorder{}
	tbl := New(rec.send, nil)
	_ = tbl.Enqueue(proto.MsgSetTemp, 7, []byte{9, 9})

	got, ok := tbl.Peek(7)
	if !ok {
		t.Fatal("want Peek to find the pending command")
	}
	if got.Type != proto.MsgSetTemp || len(got.Payload) != 2 {
		t.Fatalf("want peeked type/payload to match, got %+v", got)
	}
	if tbl.Pending() != 1 {
		t.Fatalf("Peek must not settle the command, got pending=%d", tbl.Pending())
	}

	if _, ok := tbl.Peek(200); ok {
		t.Fatal("want Peek to report not-found for an unknown seq")
	}
}

func TestTableFullRejectsEnqueue(t *testing.T) {
	rec := &recorder{}
	tbl := New(rec.send, nil)
	for i := 0; i < MaxPending; i++ {
		if err := tbl.Enqueue(proto.MsgPing, uint8(i), nil); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := tbl.Enqueue(proto.MsgPing, 200, nil); err != ErrTableFull {
		t.Fatalf("want ErrTableFull, got %v", err)
	}
}

func TestTickRetriesUntilExhausted(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	rec := &recorder{}
	tbl := New(rec.send, clock)

	if err := tbl.Enqueue(proto.MsgSetTemp, 1, []byte{1, 2, 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// MaxRetries retransmits should occur, one per elapsed AckTimeout, before
	// the command exhausts on the timeout after the last retry.
	for i := 0; i < MaxRetries; i++ {
		now = now.Add(AckTimeout)
		exhausted := tbl.Tick()
		if len(exhausted) != 0 {
			t.Fatalf("unexpected exhaustion on retry %d: %+v", i, exhausted)
		}
	}
	if len(rec.sends) != MaxRetries+1 {
		t.Fatalf("want %d sends (1 initial + %d retries), got %d", MaxRetries+1, MaxRetries, len(rec.sends))
	}

	now = now.Add(AckTimeout)
	exhausted := tbl.Tick()
	if len(exhausted) != 1 || exhausted[0].Seq != 1 {
		t.Fatalf("want command to exhaust retries, got %+v", exhausted)
	}
	if tbl.Pending() != 0 {
		t.Fatalf("exhausted command must free its slot, got pending=%d", tbl.Pending())
	}
}

func TestTickRetryDoesNotCountAsAckTimeout(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	rec := &recorder{}
	tbl := New(rec.send, clock)

	if err := tbl.Enqueue(proto.MsgSetTemp, 1, []byte{1, 2, 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	before := metrics.Snap()
	for i := 0; i < MaxRetries-1; i++ {
		now = now.Add(AckTimeout)
		if exhausted := tbl.Tick(); len(exhausted) != 0 {
			t.Fatalf("unexpected exhaustion on retry %d: %+v", i, exhausted)
		}
	}
	after := metrics.Snap()

	if got := after.Retries - before.Retries; got != MaxRetries-1 {
		t.Fatalf("want retries=%d, got %d", MaxRetries-1, got)
	}
	if got := after.AckTimeouts - before.AckTimeouts; got != 0 {
		t.Fatalf("want ack_timeouts=0 after non-terminal retries, got %d", got)
	}
}

func TestSeqFilterFirstFrameAlwaysAccepted(t *testing.T) {
	var f SeqFilter
	if r := f.Accept(200); r != RxAccepted {
		t.Fatalf("want first frame accepted, got %v", r)
	}
}

func TestSeqFilterDuplicateRejected(t *testing.T) {
	var f SeqFilter
	f.Accept(5)
	if r := f.Accept(5); r != RxDuplicate {
		t.Fatalf("want duplicate, got %v", r)
	}
}

func TestSeqFilterOutOfOrderWithinWindowRejected(t *testing.T) {
	var f SeqFilter
	f.Accept(10)
	if r := f.Accept(8); r != RxOutOfOrder {
		t.Fatalf("want out-of-order for backward distance 2, got %v", r)
	}
}

func TestSeqFilterWrapForwardAccepted(t *testing.T) {
	var f SeqFilter
	f.Accept(250)
	if r := f.Accept(3); r != RxAccepted {
		t.Fatalf("want wrap-forward accepted (9 ahead of last across the wrap), got %v", r)
	}
}

func TestSeqFilterForwardProgressAccepted(t *testing.T) {
	var f SeqFilter
	f.Accept(10)
	if r := f.Accept(15); r != RxAccepted {
		t.Fatalf("want normal forward progress accepted, got %v", r)
	}
}

func TestTickIgnoresFreshCommands(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	rec := &recorder{}
	tbl := New(rec.send, clock)
	_ = tbl.Enqueue(proto.MsgPing, 1, nil)

	if exhausted := tbl.Tick(); len(exhausted) != 0 {
		t.Fatalf("command not yet timed out should not retry: %+v", exhausted)
	}
	if len(rec.sends) != 1 {
		t.Fatalf("want only the initial send, got %d", len(rec.sends))
	}
}
