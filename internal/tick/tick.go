// Package tick implements the 100 ms cooperative control scheduler: each
// tick the safety supervisor runs before the control step, which runs
// before any actuator write, which runs before any outbound status. The
// single-loop orchestration is the one authoritative serialization point
// for the whole controller.
package tick

import (
	"time"

	"github.com/mizrachiran/brewos/internal/control"
	"github.com/mizrachiran/brewos/internal/dispatch"
	"github.com/mizrachiran/brewos/internal/proto"
	"github.com/mizrachiran/brewos/internal/safety"
)

// Period is the control tick rate.
const Period = 100 * time.Millisecond

// Actuators is the capability set the scheduler drives after the control
// step, never before. All writes are best effort from the scheduler's
// perspective; a failing actuator does not abort the tick, since no
// operation here may block or suspend.
type Actuators struct {
	SetHeaterDuty func(target proto.SensorKind, duty uint8)
	SetPump       func(duty uint8)
	SetSolenoid   func(on bool)
	SetIndicator  func(on bool)
}

// Watchdog is the hardware watchdog kick capability; it is only stroked
// once the supervisor has run for the tick.
type Watchdog func()

// InputsFunc gathers everything safety.Inputs and control.Inputs need this
// tick from the sensor/actuator/lever capabilities; it runs once per tick,
// after inbound UART bytes are drained in the main loop and before the
// supervisor runs.
type InputsFunc func(now time.Time) (safety.Inputs, control.Inputs)

// StatusFunc builds the STATUS payload from the tick's outcome, for the
// outbound cadence in internal/dispatch.
type StatusFunc func(now time.Time, safetyOut safety.Outputs, controlState proto.ControlState) proto.Status

// PowerMeterFunc builds the optional POWER_METER payload.
type PowerMeterFunc func(now time.Time) proto.PowerMeter

// Scheduler runs one control tick at a time; it owns no goroutine itself,
// it is driven by the caller's 100 ms timer.
type Scheduler struct {
	Safety     *safety.Supervisor
	Control    *control.Machine
	Dispatcher *dispatch.Dispatcher
	Actuators  Actuators
	Watchdog   Watchdog
	Inputs     InputsFunc
	Status     StatusFunc
	PowerMeter PowerMeterFunc
}

// Result reports what happened on one tick, for the caller to log or feed
// to statistics/alarms.
type Result struct {
	SafetyOut    safety.Outputs
	ControlEvent control.Event
	Outbound     []dispatch.Out
}

// Step runs exactly one tick: supervisor, then control, then actuators,
// then outbound status, in that fixed order. It never blocks.
func (s *Scheduler) Step(now time.Time) Result {
	safetyIn, controlIn := s.Inputs(now)

	safetyOut := s.Safety.Evaluate(safetyIn)
	if s.Watchdog != nil {
		s.Watchdog()
	}

	controlIn.SafetyCritical = safetyOut.Severity == safety.SeverityCritical
	controlIn.Now = now
	event := s.Control.Step(controlIn)

	s.driveActuators(safetyOut, event)

	var outbound []dispatch.Out
	if s.Dispatcher != nil {
		status := proto.Status{}
		if s.Status != nil {
			status = s.Status(now, safetyOut, s.Control.State())
		}
		var power proto.PowerMeter
		if s.PowerMeter != nil {
			power = s.PowerMeter(now)
		}
		outbound = s.Dispatcher.OutboundTick(now, status, power)
	}

	return Result{SafetyOut: safetyOut, ControlEvent: event, Outbound: outbound}
}

// driveActuators applies the supervisor's clamp (SSR stuck-on clamps duty,
// any CRITICAL condition zeroes everything) and the control state's
// brewing/idle posture. It runs strictly after both the supervisor and the
// control step have produced their outputs for this tick.
func (s *Scheduler) driveActuators(out safety.Outputs, event control.Event) {
	if s.Actuators.SetHeaterDuty == nil || s.Actuators.SetPump == nil || s.Actuators.SetSolenoid == nil {
		return
	}

	if out.SafeState {
		s.Actuators.SetHeaterDuty(proto.SensorBrewNTC, 0)
		s.Actuators.SetHeaterDuty(proto.SensorSteamNTC, 0)
		s.Actuators.SetPump(0)
		s.Actuators.SetSolenoid(false)
		if s.Actuators.SetIndicator != nil {
			s.Actuators.SetIndicator(true)
		}
		return
	}

	if out.ClampSSRDuty {
		s.Actuators.SetHeaterDuty(proto.SensorBrewNTC, safety.SSRClampDuty)
		s.Actuators.SetHeaterDuty(proto.SensorSteamNTC, safety.SSRClampDuty)
	}

	switch event.Kind {
	case control.EventBrewStarted:
		s.Actuators.SetSolenoid(true)
		s.Actuators.SetPump(100)
	case control.EventBrewCompleted:
		s.Actuators.SetSolenoid(false)
		s.Actuators.SetPump(0)
	}

	if s.Actuators.SetIndicator != nil {
		s.Actuators.SetIndicator(false)
	}
}
