// Package safety implements the per-tick invariant evaluation: the safety
// supervisor runs first every tick, raises/clears bits in the safety
// bitmask, classifies the worst current condition, and forces the actuator
// set to zero while any CRITICAL flag is set.
package safety

import (
	"time"

	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

// Safety thresholds.
const (
	BrewOverTempC       = 130.0
	SteamOverTempC      = 165.0
	GroupOverTempC      = 110.0
	OverTempHysteresisK = 10.0

	SSRMaxOnTime = 60 * time.Second
	SSRClampDuty = 95

	HeartbeatLostAfter = 5 * time.Second

	HardwareWatchdogPeriod = 2 * time.Second
)

// Severity classifies the worst active condition this tick.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityFault
	SeverityCritical
)

// Inputs is everything the supervisor reads on one tick. All fields are
// supplied by the caller (the tick scheduler); Supervisor owns no sensor or
// actuator capability directly.
type Inputs struct {
	BrewTempC, SteamTempC, GroupTempC float64
	BrewNTCFault, SteamNTCFault       bool
	PressureFault                     bool
	ReservoirPresent                  bool
	TankMode                          bool
	EnvConfigValid                    bool
	SSROnSince                        time.Time // zero if SSR is currently off
	SSRTempDeltaC                     float64   // |temp - temp at SSROnSince|
	HeartbeatAge                      time.Duration
	Now                               time.Time
}

// Outputs is what the supervisor decided this tick.
type Outputs struct {
	Flags        uint16
	Severity     Severity
	SafeState    bool
	ClampSSRDuty bool
}

// Supervisor holds the latched hysteresis state across ticks.
type Supervisor struct {
	overTempLatched bool
	flags           uint16
}

// New creates a Supervisor with no flags raised.
func New() *Supervisor { return &Supervisor{} }

// Evaluate runs one tick's worth of invariant checks and returns the
// resulting flags/severity/safe-state. It must be called before the
// control step and before any actuator write.
func (s *Supervisor) Evaluate(in Inputs) Outputs {
	var flags uint16
	sev := SeverityNone

	overTemp := in.BrewTempC > BrewOverTempC || in.SteamTempC > SteamOverTempC || in.GroupTempC > GroupOverTempC
	if overTemp {
		s.overTempLatched = true
	} else if s.overTempLatched {
		// Hysteresis: only clear once every boiler is OverTempHysteresisK
		// below its trip point.
		if in.BrewTempC <= BrewOverTempC-OverTempHysteresisK &&
			in.SteamTempC <= SteamOverTempC-OverTempHysteresisK &&
			in.GroupTempC <= GroupOverTempC-OverTempHysteresisK {
			s.overTempLatched = false
		}
	}
	if s.overTempLatched {
		flags |= uint16(proto.FlagOverTemp)
		sev = max(sev, SeverityCritical)
	}

	if in.BrewNTCFault || in.SteamNTCFault || in.PressureFault {
		flags |= uint16(proto.FlagSensorFault)
		sev = max(sev, SeverityCritical)
	}

	if !in.EnvConfigValid {
		flags |= uint16(proto.FlagEnvConfigInvalid)
		sev = max(sev, SeverityCritical)
	}

	if in.TankMode && !in.ReservoirPresent {
		flags |= uint16(proto.FlagWaterLow)
		sev = max(sev, SeverityCritical)
	}

	clampSSR := false
	if !in.SSROnSince.IsZero() && in.Now.Sub(in.SSROnSince) >= SSRMaxOnTime && in.SSRTempDeltaC < 0.5 {
		flags |= uint16(proto.FlagSSRFault)
		sev = max(sev, SeverityFault)
		clampSSR = true
	}

	if in.HeartbeatAge >= HeartbeatLostAfter {
		flags |= uint16(proto.FlagCommTimeout)
		sev = max(sev, SeverityWarning)
	}

	s.flags = flags
	safe := flags&uint16(proto.CriticalFlags) != 0
	metrics.SetSafetyFlags(flags)

	return Outputs{Flags: flags, Severity: sev, SafeState: safe, ClampSSRDuty: clampSSR}
}

// Flags returns the bitmask latched by the most recent Evaluate call.
func (s *Supervisor) Flags() uint16 { return s.flags }

// Reset is the explicit safety_reset() predicate: it returns true
// (permitting SAFE→INIT) only if no CRITICAL flag is currently latched. It
// has no side effect beyond reporting whether the caller may leave SAFE;
// the flags themselves are only ever cleared by a subsequent Evaluate call
// observing healthy inputs.
func (s *Supervisor) Reset() bool {
	return s.flags&uint16(proto.CriticalFlags) == 0
}

