// Package control implements the machine's tagged-enum control state
// machine: a single Machine struct carries the current state, and Step
// exhaustively matches on it every tick, evaluating inputs, transitioning,
// and emitting the events callers need to raise alarms or update
// statistics.
package control

import (
	"time"

	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

// MinBrewDurationForStats is the shortest brew worth reporting to the
// statistics sink.
const MinBrewDurationForStats = 5 * time.Second

// CleaningCountThreshold is the brew duration that increments the cleaning
// counter.
const CleaningCountThreshold = 15 * time.Second

// Inputs is everything the control step reads on one tick.
type Inputs struct {
	AllSensorsValidOnce bool
	Mode                proto.Mode
	BoilersAtSetpoint   bool
	LeverDown           bool      // edge-detected by the caller; true only on the tick of the press
	LeverReleased       bool      // true only on the tick of the release
	WeightStop          bool      // true only on the tick a scale-driven stop fires
	SafetyCritical      bool
	SafetyResetOK       bool
	Now                 time.Time
}

// Event reports something the control step wants the caller to act on
// (raise an alarm, write to the statistics sink) this tick.
type Event struct {
	Kind        EventKind
	BrewElapsed time.Duration
}

type EventKind int

const (
	EventNone EventKind = iota
	EventEnteredSafe
	EventLeftSafe
	EventBrewStarted
	EventBrewCompleted
	EventCleaningCredited
)

// Machine holds the current control state and any timers it needs across
// ticks (e.g. brew start time). It is not safe for concurrent use.
type Machine struct {
	state      proto.ControlState
	brewStart  time.Time
	inCleaning bool
}

// New creates a Machine starting in INIT.
func New() *Machine {
	return &Machine{state: proto.StateInit}
}

// State returns the current control state.
func (m *Machine) State() proto.ControlState { return m.state }

// Step advances the machine by one tick. The safety supervisor's output
// must already be folded into in.SafetyCritical/SafetyResetOK before this
// is called: safety always runs before the control step.
func (m *Machine) Step(in Inputs) Event {
	if in.SafetyCritical && m.state != proto.StateSafe {
		m.state = proto.StateSafe
		metrics.SetControlState(uint8(m.state))
		return Event{Kind: EventEnteredSafe}
	}

	switch m.state {
	case proto.StateInit:
		if in.AllSensorsValidOnce {
			m.state = proto.StateIdle
		}
	case proto.StateIdle:
		if in.Mode == proto.ModeBrew || in.Mode == proto.ModeSteam {
			m.state = proto.StateHeating
		}
	case proto.StateHeating:
		if in.Mode == proto.ModeIdle {
			m.state = proto.StateIdle
			break
		}
		if in.BoilersAtSetpoint {
			m.state = proto.StateReady
		}
	case proto.StateReady:
		if in.Mode == proto.ModeIdle {
			m.state = proto.StateIdle
			break
		}
		if in.LeverDown {
			m.state = proto.StateBrewing
			m.brewStart = in.Now
			metrics.SetControlState(uint8(m.state))
			return Event{Kind: EventBrewStarted}
		}
	case proto.StateBrewing:
		if in.LeverReleased || in.WeightStop {
			elapsed := in.Now.Sub(m.brewStart)
			m.state = proto.StateReady
			metrics.SetControlState(uint8(m.state))
			ev := Event{Kind: EventNone, BrewElapsed: elapsed}
			if elapsed >= MinBrewDurationForStats {
				ev.Kind = EventBrewCompleted
			}
			if elapsed >= CleaningCountThreshold {
				ev.Kind = EventCleaningCredited
			}
			return ev
		}
	case proto.StateFault:
		// Fault recovery is integrator-defined; the only named exit here
		// is via SAFE.
	case proto.StateSafe:
		if !in.SafetyCritical && in.SafetyResetOK {
			m.state = proto.StateInit
			metrics.SetControlState(uint8(m.state))
			return Event{Kind: EventLeftSafe}
		}
	}

	metrics.SetControlState(uint8(m.state))
	return Event{Kind: EventNone}
}

// CanStartCleaning reports whether cleaning mode may begin this tick:
// cleaning is allowed to start only when the current state is READY.
func (m *Machine) CanStartCleaning() bool {
	return m.state == proto.StateReady
}

// StartCleaning marks the machine as running a cleaning cycle. It has no
// effect on the tagged state (cleaning rides within READY/BREWING per the
// lever-driven flow); it exists so callers can gate cleaning-only behavior
// (e.g. forced preinfusion bypass) without adding a new top-level state.
func (m *Machine) StartCleaning() {
	if m.CanStartCleaning() {
		m.inCleaning = true
	}
}

// InCleaning reports whether a cleaning cycle is active.
func (m *Machine) InCleaning() bool { return m.inCleaning }

// EndCleaning clears the cleaning-cycle flag (called once BREWING exits
// back to READY after a cleaning-triggered brew).
func (m *Machine) EndCleaning() { m.inCleaning = false }
