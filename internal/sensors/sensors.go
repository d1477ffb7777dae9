// Package sensors implements the per-kind validity bands, hold-last-valid
// filter, and fault latch/clear logic: each sensor kind carries its own
// valid range, an out-of-band reading holds the last good value rather
// than propagating garbage downstream, and a fault only latches after
// enough consecutive bad samples to rule out a one-off glitch.
package sensors

import (
	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
)

// FaultThreshold is the number of consecutive out-of-band readings before a
// sensor's fault is latched.
const FaultThreshold = 10

// DebounceSamples is how many consecutive identical readings a level probe
// needs before its state is reported as changed.
const DebounceSamples = 5

// Band is the valid reading range for one sensor kind.
type Band struct {
	Min, Max float64
}

// Bands gives the valid range for each sensor kind.
var Bands = map[proto.SensorKind]Band{
	proto.SensorBrewNTC:        {Min: -20, Max: 150},
	proto.SensorSteamNTC:       {Min: -20, Max: 150},
	proto.SensorGroupTC:        {Min: -50, Max: 200},
	proto.SensorPressure:       {Min: 0, Max: 20},
	proto.SensorLevelReservoir: {Min: 0, Max: 1},
	proto.SensorLevelTank:      {Min: 0, Max: 1},
	proto.SensorLevelSteam:     {Min: 0, Max: 1},
	proto.SensorPowerMeter:     {Min: 0, Max: 4000},
}

// Tracker holds the filtered/fault state of one sensor channel. Zero value
// is ready to use (no last-valid reading, fault not latched).
type Tracker struct {
	kind             proto.SensorKind
	hasValid         bool
	lastValid        float64
	consecutiveFails int
	faulted          bool

	// Debounce state for level-probe style boolean sensors.
	debounceValue  float64
	debounceRun    int
	stableValue    float64
	hasStableValue bool
}

// New creates a Tracker for kind.
func New(kind proto.SensorKind) *Tracker {
	return &Tracker{kind: kind}
}

// Update feeds one raw reading. It returns the filtered value to use
// downstream (the raw value if in-band, else the last known-good value) and
// whether the sensor fault is currently latched.
//
// A fault latches after FaultThreshold consecutive out-of-band readings and
// clears immediately on the next in-band reading.
func (t *Tracker) Update(raw float64) (filtered float64, faulted bool) {
	band, known := Bands[t.kind]
	inBand := !known || (raw >= band.Min && raw <= band.Max)

	if inBand {
		t.hasValid = true
		t.lastValid = raw
		t.consecutiveFails = 0
		if t.faulted {
			t.faulted = false
			metrics.SetSensorFault(t.kind.String(), false)
		}
		return raw, false
	}

	t.consecutiveFails++
	if t.consecutiveFails >= FaultThreshold && !t.faulted {
		t.faulted = true
		metrics.SetSensorFault(t.kind.String(), true)
	}
	if t.hasValid {
		return t.lastValid, t.faulted
	}
	return raw, t.faulted
}

// Faulted reports the tracker's latched fault state without feeding a new
// sample.
func (t *Tracker) Faulted() bool { return t.faulted }

// DebounceLevel feeds one raw boolean-style level reading (as 0/1) through a
// run-length debounce: the reported stable value only changes once the same
// raw value has been seen DebounceSamples times in a row. It returns the
// current stable value.
func (t *Tracker) DebounceLevel(raw float64) float64 {
	if !t.hasStableValue {
		t.stableValue = raw
		t.hasStableValue = true
		t.debounceValue = raw
		t.debounceRun = 1
		return t.stableValue
	}
	if raw == t.debounceValue {
		t.debounceRun++
	} else {
		t.debounceValue = raw
		t.debounceRun = 1
	}
	if t.debounceRun >= DebounceSamples {
		t.stableValue = t.debounceValue
	}
	return t.stableValue
}
