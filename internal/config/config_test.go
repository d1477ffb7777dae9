package config

import (
	"errors"
	"testing"
)

type memStore struct {
	saved Configuration
	has   bool
}

func (m *memStore) Load() (Configuration, error) {
	if !m.has {
		return Configuration{}, ErrNotFound
	}
	return m.saved, nil
}

func (m *memStore) Save(c Configuration) error {
	m.saved = c
	m.has = true
	return nil
}

func TestDefaultIsValid(t *testing.T) {
	if !Default().Valid() {
		t.Fatal("want the factory default configuration to be valid")
	}
}

func TestInvalidEnvFailsValidation(t *testing.T) {
	c := Default()
	c.Env.NominalVoltage = 0
	if c.Valid() {
		t.Fatal("want zero nominal voltage to be invalid")
	}
	c = Default()
	c.Env.MaxCurrentDraw = 0
	if c.Valid() {
		t.Fatal("want zero max current draw to be invalid")
	}
}

func TestToWireRoundTripsSetpointsAndPID(t *testing.T) {
	c := Default()
	wire := c.ToWire(7)
	if wire.BrewSPC10 != c.BrewSetpointC10 || wire.SteamSPC10 != c.SteamSetpointC10 {
		t.Fatalf("setpoints did not round-trip: %+v", wire)
	}
	if wire.KP100 != c.PID.KP100 || wire.KI100 != c.PID.KI100 || wire.KD100 != c.PID.KD100 {
		t.Fatalf("PID gains did not round-trip: %+v", wire)
	}
	if wire.MachineType != 7 {
		t.Fatalf("want injected machine type 7, got %d", wire.MachineType)
	}
}

func TestToEnvWireCarriesSuppliedDerivedCoefficients(t *testing.T) {
	c := Default()
	derived := [3]float32{1, 2, 3}
	wire := c.ToEnvWire(derived)
	if wire.DerivedA != derived {
		t.Fatalf("want derived coefficients passed through untouched, got %+v", wire.DerivedA)
	}
	if wire.NominalVoltage != c.Env.NominalVoltage {
		t.Fatalf("nominal voltage did not round-trip: %+v", wire)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := &memStore{}
	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound before first save, got %v", err)
	}
	c := Default()
	c.CleaningBrewCount = 3
	if err := store.Save(c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CleaningBrewCount != 3 {
		t.Fatalf("want persisted cleaning count 3, got %d", got.CleaningBrewCount)
	}
}
