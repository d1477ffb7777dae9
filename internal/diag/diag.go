// Package diag implements the link handshake and diagnostics surface:
// version/capability negotiation at link-up, and the Stats snapshot
// exposed to operators. Negotiation compares protocol versions rather than
// matching a fixed hello string, since peers can run different firmware
// revisions; once both sides agree, the link latches "up".
package diag

import (
	"errors"

	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

// ProtoMajor and ProtoMinor are this build's protocol version.
const (
	ProtoMajor uint8 = 1
	ProtoMinor uint8 = 0
)

// ErrIncompatible is returned when the peer's major version differs from
// ours; a major mismatch is fatal and the link must not proceed.
var ErrIncompatible = errors.New("diag: incompatible protocol major version")

// Negotiator tracks one side's handshake state machine. It is not safe for
// concurrent use.
type Negotiator struct {
	done          bool
	peerMajor     uint8
	peerMinor     uint8
	negotiatedMin uint8
}

// New creates a Negotiator awaiting its peer's handshake frame.
func New() *Negotiator { return &Negotiator{} }

// Offer builds this side's outbound handshake payload.
func (n *Negotiator) Offer() proto.Handshake {
	return proto.Handshake{
		ProtoMajor:    ProtoMajor,
		ProtoMinor:    ProtoMinor,
		MaxPacketSize: proto.MaxFrame,
	}
}

// Accept processes the peer's handshake payload. On success it latches the
// negotiated minor version (the lower of the two, so both sides only rely
// on features each understands) and reports the link as established.
func (n *Negotiator) Accept(peer proto.Handshake) error {
	if peer.ProtoMajor != ProtoMajor {
		return ErrIncompatible
	}
	n.peerMajor = peer.ProtoMajor
	n.peerMinor = peer.ProtoMinor
	n.negotiatedMin = ProtoMinor
	if peer.ProtoMinor < n.negotiatedMin {
		n.negotiatedMin = peer.ProtoMinor
	}
	n.done = true
	metrics.SetHandshakeComplete(ProtoMajor, n.negotiatedMin)
	return nil
}

// Done reports whether a compatible handshake has completed.
func (n *Negotiator) Done() bool { return n.done }

// NegotiatedMinor returns the lower of the two sides' minor versions, valid
// only once Done reports true.
func (n *Negotiator) NegotiatedMinor() uint8 { return n.negotiatedMin }

// Stats is the diagnostic snapshot surfaced to operators, a thin wrapper
// over metrics.Snapshot plus link status.
type Stats struct {
	metrics.Snapshot
}

// Snapshot captures the current diagnostics.
func Snapshot() Stats {
	return Stats{Snapshot: metrics.Snap()}
}
