package sensors

import (
	"testing"

	"github.com/mizrachiran/brewos/internal/proto"
)

func TestUpdateInBandPassesThrough(t *testing.T) {
	tr := New(proto.SensorBrewNTC)
	filtered, faulted := tr.Update(93.5)
	if faulted || filtered != 93.5 {
		t.Fatalf("want in-band pass-through, got filtered=%v faulted=%v", filtered, faulted)
	}
}

func TestUpdateHoldsLastValidDuringOutOfBand(t *testing.T) {
	tr := New(proto.SensorBrewNTC)
	tr.Update(93.5)
	filtered, faulted := tr.Update(999) // out of band, not yet faulted
	if faulted {
		t.Fatal("must not fault on a single bad sample")
	}
	if filtered != 93.5 {
		t.Fatalf("want held last-valid value 93.5, got %v", filtered)
	}
}

func TestFaultLatchesAfterThreshold(t *testing.T) {
	tr := New(proto.SensorBrewNTC)
	tr.Update(90)
	var faulted bool
	for i := 0; i < FaultThreshold; i++ {
		_, faulted = tr.Update(999)
	}
	if !faulted {
		t.Fatal("want fault latched after FaultThreshold consecutive bad samples")
	}
	if !tr.Faulted() {
		t.Fatal("Faulted() should report latched state")
	}
}

func TestFaultClearsOnSingleGoodSample(t *testing.T) {
	tr := New(proto.SensorBrewNTC)
	tr.Update(90)
	for i := 0; i < FaultThreshold; i++ {
		tr.Update(999)
	}
	if !tr.Faulted() {
		t.Fatal("precondition: fault should be latched")
	}
	_, faulted := tr.Update(91)
	if faulted || tr.Faulted() {
		t.Fatal("want fault cleared immediately on one good sample")
	}
}

func TestUnknownKindNeverClipsRange(t *testing.T) {
	tr := New(proto.SensorKind(200))
	filtered, faulted := tr.Update(1e9)
	if faulted || filtered != 1e9 {
		t.Fatalf("unbound kind should pass through anything, got %v %v", filtered, faulted)
	}
}

func TestDebounceLevelRequiresConsecutiveSamples(t *testing.T) {
	tr := New(proto.SensorLevelTank)
	if got := tr.DebounceLevel(1); got != 1 {
		t.Fatalf("first sample should seed stable value, got %v", got)
	}
	for i := 0; i < DebounceSamples-1; i++ {
		if got := tr.DebounceLevel(0); got != 1 {
			t.Fatalf("stable value should not flip before DebounceSamples runs, got %v at iter %d", got, i)
		}
	}
	// One more sample reaches the run length.
	got := tr.DebounceLevel(0)
	if got != 0 {
		t.Fatalf("stable value should flip to 0 once debounce run length is reached, got %v", got)
	}
}

func TestDebounceLevelResetsRunOnChange(t *testing.T) {
	tr := New(proto.SensorLevelSteam)
	tr.DebounceLevel(1)
	tr.DebounceLevel(0)
	tr.DebounceLevel(0)
	tr.DebounceLevel(1) // interrupts the run of 0s
	if got := tr.DebounceLevel(0); got != 1 {
		t.Fatalf("an interrupted run must reset; stable value should still be 1, got %v", got)
	}
}
