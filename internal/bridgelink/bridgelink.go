// Package bridgelink implements the bridge side of the backpressure
// contract: on receiving NACK{BUSY}, double the retransmit interval up to a
// cap, then reset once a command succeeds. The controller side's admission
// threshold lives in internal/backpressure; this package is the peer's
// reaction to it.
package bridgelink

import (
	"time"

	"github.com/cenkalti/backoff"
)

// Bounds on the retransmit interval: 250ms doubling up to a 2s cap.
const (
	InitialInterval = 250 * time.Millisecond
	MaxInterval     = 2 * time.Second
	Multiplier      = 2.0
)

// Policy tracks the current backoff interval. It is not safe for concurrent
// use; cmd/bridge keeps one Policy, shared by all pending commands, and
// drives it from its single event loop.
type Policy struct {
	bo *backoff.ExponentialBackOff
}

// New creates a Policy starting at InitialInterval with no randomization
// jitter, since the protocol's recommendation is a deterministic doubling
// schedule, not a jittered one.
func New() *Policy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialInterval
	b.MaxInterval = MaxInterval
	b.Multiplier = Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // never give up; the retry table above owns MAX_RETRIES
	b.Reset()
	return &Policy{bo: b}
}

// OnNack reports how long to wait before the next retransmit, doubling the
// previous interval up to MaxInterval.
func (p *Policy) OnNack() time.Duration {
	return p.bo.NextBackOff()
}

// OnDelivered resets the schedule back to InitialInterval once a command
// is ACKed, so the next independent command starts fresh.
func (p *Policy) OnDelivered() {
	p.bo.Reset()
}
