package frame

import (
	"bytes"
	"testing"

	"github.com/mizrachiran/brewos/internal/proto"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		typ     proto.MsgType
		seq     uint8
		payload []byte
	}{
		{proto.MsgPing, 0, nil},
		{proto.MsgStatus, 42, bytes.Repeat([]byte{0xAB}, 24)},
		{proto.MsgHandshake, 255, []byte{1, 1, 0, 0, 0x20, 0x01}},
		{proto.MsgAck, 0x2F, []byte{0x10, 1, 0, 0}},
		{proto.MsgBootloader, 7, bytes.Repeat([]byte{0x5A}, proto.MaxPayload)},
	}
	for _, c := range cases {
		wire := Encode(c.typ, c.seq, c.payload)
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("decode(%v,%d): %v", c.typ, c.seq, err)
		}
		if got.Type != c.typ || got.Seq != c.seq || !bytes.Equal(got.Payload, c.payload) {
			t.Fatalf("round-trip mismatch: got %+v want type=%v seq=%d payload=%v", got, c.typ, c.seq, c.payload)
		}
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for oversize payload")
		}
	}()
	Encode(proto.MsgStatus, 0, make([]byte, proto.MaxPayload+1))
}

func TestDecodeBadStart(t *testing.T) {
	wire := Encode(proto.MsgPing, 0, nil)
	wire[0] = 0x00
	if _, err := Decode(wire); err != ErrBadStart {
		t.Fatalf("want ErrBadStart, got %v", err)
	}
}

func TestDecodeBadCrc(t *testing.T) {
	wire := Encode(proto.MsgPing, 0, []byte{1, 2, 3, 4})
	wire[len(wire)-1] ^= 0xFF
	if _, err := Decode(wire); err != ErrBadCrc {
		t.Fatalf("want ErrBadCrc, got %v", err)
	}
}

func TestDecodeBadLength(t *testing.T) {
	wire := Encode(proto.MsgPing, 0, []byte{1, 2, 3, 4})
	wire[2] = 200 // exceeds MaxPayload
	if _, err := Decode(wire); err != ErrBadLength {
		t.Fatalf("want ErrBadLength, got %v", err)
	}
}

// TestCRCReferenceVector pins the CRC-16/CCITT algorithm against a known
// value computed independently (poly 0x1021, init 0xFFFF), so a future
// refactor of the table-driven implementation can't silently change the
// on-wire checksum.
func TestCRCReferenceVector(t *testing.T) {
	// "123456789" is the standard CRC catalogue check string; CRC-16/CCITT-FALSE
	// (poly 0x1021, init 0xFFFF, no reflect, no xorout) yields 0x29B1.
	got := CRC16([]byte("123456789"))
	if got != 0x29B1 {
		t.Fatalf("CRC16 reference vector mismatch: got 0x%04X want 0x29B1", got)
	}
}
