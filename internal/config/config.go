// Package config holds the persisted Configuration record (setpoints, PID
// gains, heating strategy, preinfusion, environmental limits, cleaning
// counters) and the Store capability it is loaded and saved through. The
// core consumes a load()/save() capability and never touches storage
// directly.
package config

import (
	"errors"
	"time"

	"github.com/mizrachiran/brewos/internal/proto"
)

// PID holds the three PID gains, stored as the same hundredths-scaled
// integers the wire format uses (proto.Config.KP100 etc.) so persistence
// and wire representation never drift.
type PID struct {
	KP100 uint16
	KI100 uint16
	KD100 uint16
}

// Preinfusion mirrors proto.PreinfusionCfg for persistence.
type Preinfusion struct {
	OnMS    uint16
	PauseMS uint16
	Enabled bool
}

// Env mirrors the subset of proto.EnvConfig that is operator-configurable;
// DerivedA (the three fitted current-draw coefficients) is not persisted:
// ToEnvWire takes it from the caller, and cmd/controller supplies fixed
// coefficients.
type Env struct {
	NominalVoltage uint16
	MaxCurrentDraw float32
}

// Configuration is the persisted record. Statistics (cleaning_brew_count)
// live alongside the tunables since both are process-wide singletons
// sharing one store with an explicit init/teardown lifecycle.
type Configuration struct {
	BrewSetpointC10  int16
	SteamSetpointC10 int16
	TempOffsetC10    int16
	PID              PID
	HeatingStrategy  proto.HeatingStrategy
	Preinfusion      Preinfusion
	Env              Env

	// CleaningThreshold is the brew duration that credits a cleaning cycle;
	// mirrors control.CleaningCountThreshold's default but is
	// operator-tunable.
	CleaningThreshold time.Duration
	// CleaningBrewCount is the persisted count of brews credited toward the
	// next due cleaning. cmd/controller does not increment it on
	// internal/control's EventCleaningCredited; it changes only when a
	// caller sets it and saves the record.
	CleaningBrewCount uint32
}

// Default returns the factory Configuration a fresh controller boots with
// absent a Store record.
func Default() Configuration {
	return Configuration{
		BrewSetpointC10:   930,
		SteamSetpointC10:  1450,
		TempOffsetC10:     0,
		PID:               PID{KP100: 200, KI100: 10, KD100: 50},
		HeatingStrategy:   proto.StrategySequential,
		Preinfusion:       Preinfusion{OnMS: 1500, PauseMS: 2500, Enabled: true},
		Env:               Env{NominalVoltage: 230, MaxCurrentDraw: 13.0},
		CleaningThreshold: 15 * time.Second,
	}
}

// ToWire projects the subset of Configuration the CONFIG broadcast carries
// (proto.Config omits cleaning bookkeeping, which is operational state, not
// a wire-level setpoint).
func (c Configuration) ToWire(machineType uint8) proto.Config {
	return proto.Config{
		BrewSPC10:     c.BrewSetpointC10,
		SteamSPC10:    c.SteamSetpointC10,
		TempOffsetC10: c.TempOffsetC10,
		KP100:         c.PID.KP100,
		KI100:         c.PID.KI100,
		KD100:         c.PID.KD100,
		Strategy:      c.HeatingStrategy,
		MachineType:   machineType,
	}
}

// ToEnvWire projects the subset of Env the ENV_CONFIG broadcast carries.
// derivedA is supplied by the caller since it is computed, not persisted.
func (c Configuration) ToEnvWire(derivedA [3]float32) proto.EnvConfig {
	return proto.EnvConfig{
		NominalVoltage: c.Env.NominalVoltage,
		MaxCurrentDraw: c.Env.MaxCurrentDraw,
		DerivedA:       derivedA,
	}
}

// Valid reports whether c is safe to run the control loop against; an
// invalid Env gates command handling in internal/dispatch and internal/safety.
func (c Configuration) Valid() bool {
	return c.Env.NominalVoltage != 0 && c.Env.MaxCurrentDraw > 0
}

// ErrNotFound is returned by a Store's Load when no record has ever been
// saved; callers fall back to Default().
var ErrNotFound = errors.New("config: no persisted record")

// Store is the persistence capability injected into the controller binary.
// The core treats persistence as an external sink it never touches
// directly; concrete Stores (file, flash-backed key/value, etc.) live in
// cmd/controller, keeping I/O backends out of internal/ business-logic
// packages.
type Store interface {
	Load() (Configuration, error)
	Save(Configuration) error
}
