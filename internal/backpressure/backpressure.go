// Package backpressure rejects new inbound commands with NACK{BUSY} once the
// queue depth reaches Threshold, instead of queueing them, so a wedged
// downstream never grows an unbounded backlog. Rejection is explicit rather
// than a silent drop, since the peer needs a signal to back off and retry
// later.
package backpressure

import "github.com/mizrachiran/brewos/internal/metrics"

// Threshold is the inbound queue depth at which new commands are NACKed.
const Threshold = 3

// Depther reports the current inbound queue depth; the retry table's
// Pending() satisfies this when commands awaiting ACK are treated as the
// queue, and a dispatcher-owned inbound ring buffer can satisfy it too.
type Depther interface {
	Pending() int
}

// Policy decides whether a newly arrived command should be accepted or
// rejected with NACK{BUSY}.
type Policy struct {
	depth Depther
}

// New creates a Policy that consults depth for its admission decisions.
func New(depth Depther) *Policy {
	return &Policy{depth: depth}
}

// Admit reports whether a new command may be queued. When it returns false
// the caller must reply NACK{BUSY} and must not enqueue the command.
func (p *Policy) Admit() bool {
	busy := p.depth.Pending() >= Threshold
	if busy {
		metrics.IncNackSentBusy()
	}
	return !busy
}
