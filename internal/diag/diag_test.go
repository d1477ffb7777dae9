package diag

import (
	"testing"

	"github.com/mizrachiran/brewos/internal/proto"
)

func TestAcceptMatchingMajorSucceeds(t *testing.T) {
	n := New()
	err := n.Accept(proto.Handshake{ProtoMajor: ProtoMajor, ProtoMinor: 3, MaxPacketSize: proto.MaxFrame})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !n.Done() {
		t.Fatal("want Done after successful accept")
	}
	if n.NegotiatedMinor() != ProtoMinor {
		t.Fatalf("want negotiated minor to be the lower of the two (%d), got %d", ProtoMinor, n.NegotiatedMinor())
	}
}

func TestAcceptNegotiatesLowerMinor(t *testing.T) {
	n := New()
	if err := n.Accept(proto.Handshake{ProtoMajor: ProtoMajor, ProtoMinor: 0}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if n.NegotiatedMinor() != 0 {
		t.Fatalf("want negotiated minor 0, got %d", n.NegotiatedMinor())
	}
}

func TestAcceptMismatchedMajorFails(t *testing.T) {
	n := New()
	err := n.Accept(proto.Handshake{ProtoMajor: ProtoMajor + 1, ProtoMinor: 0})
	if err != ErrIncompatible {
		t.Fatalf("want ErrIncompatible, got %v", err)
	}
	if n.Done() {
		t.Fatal("must not latch Done on incompatible handshake")
	}
}

func TestOfferCarriesThisBuildsVersion(t *testing.T) {
	n := New()
	offer := n.Offer()
	if offer.ProtoMajor != ProtoMajor || offer.ProtoMinor != ProtoMinor {
		t.Fatalf("unexpected offer: %+v", offer)
	}
	if offer.MaxPacketSize != proto.MaxFrame {
		t.Fatalf("want MaxPacketSize=%d, got %d", proto.MaxFrame, offer.MaxPacketSize)
	}
}
