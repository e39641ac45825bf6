package orchestrator

import (
	"errors"
	"sync"
	"testing"

	"github.com/pys60/pysbuild/internal/config"
)

func TestRun_AdvanceIsMonotonic(t *testing.T) {
	r := NewRun("run-1", config.ModeDefault)
	k := Key{Platform: "30armv5", Flavor: "unsigned_alabs"}

	for _, to := range []Phase{PhaseConfigured, PhaseDeviceBuilt, PhaseRepackaged, PhaseMoved} {
		if err := r.Advance(k, to); err != nil {
			t.Fatalf("Advance(%s) error: %v", to, err)
		}
	}
	if got := r.Phase(k); got != PhaseMoved {
		t.Errorf("Phase = %s, want Moved", got)
	}

	err := r.Advance(k, PhasePackaged)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("Advance backwards err = %v, want *TransitionError", err)
	}
	if te.From != PhaseMoved || te.To != PhasePackaged || te.Key != k {
		t.Errorf("TransitionError = %+v", te)
	}
	if got := r.Phase(k); got != PhaseMoved {
		t.Errorf("Phase after rejected transition = %s, want Moved", got)
	}
}

func TestRun_RepeatRejected(t *testing.T) {
	r := NewRun("run-1", config.ModeDefault)
	k := Key{Platform: "30armv5", Flavor: "white_choco"}
	if err := r.Advance(k, PhaseConfigured); err != nil {
		t.Fatal(err)
	}
	if err := r.Check(k, PhaseConfigured); err == nil {
		t.Error("Check accepted a repeated phase")
	}
	if err := r.Advance(k, PhaseConfigured); err == nil {
		t.Error("Advance accepted a repeated phase")
	}
	if err := r.Check(k, Phase(99)); err == nil {
		t.Error("Check accepted a phase past Moved")
	}
}

func TestRun_EmulatorTrackedApart(t *testing.T) {
	r := NewRun("run-1", config.ModeDefault)
	dev := Key{Platform: "30armv5", Flavor: "unsigned_high_capas"}
	emu := dev
	emu.Emulator = true

	if err := r.Advance(emu, PhaseTested); err != nil {
		t.Fatal(err)
	}
	if err := r.Advance(dev, PhaseConfigured); err != nil {
		t.Errorf("device track blocked by emulator track: %v", err)
	}
	if emu.String() != "30armv5/unsigned_high_capas (emu)" || dev.String() != "30armv5/unsigned_high_capas" {
		t.Errorf("Key strings = %q, %q", emu, dev)
	}
}

func TestRun_TransitionsRecorded(t *testing.T) {
	r := NewRun("run-1", config.ModeRelease)
	a := Key{Platform: "30armv5", Flavor: "unsigned_alabs"}
	b := Key{Platform: "30armv5", Flavor: "alabs_pythonteam"}

	var wg sync.WaitGroup
	for _, k := range []Key{a, b} {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			_ = r.Advance(k, PhaseRepackaged)
		}(k)
	}
	wg.Wait()

	got := r.Transitions()
	if len(got) != 2 {
		t.Fatalf("Transitions = %+v, want 2", got)
	}
	for _, tr := range got {
		if tr.From != PhaseNone || tr.To != PhaseRepackaged {
			t.Errorf("transition = %+v", tr)
		}
	}
}

func TestPhase_String(t *testing.T) {
	if PhaseEmulatorBuilt.String() != "EmulatorBuilt" {
		t.Errorf("String = %q", PhaseEmulatorBuilt.String())
	}
	if Phase(42).String() != "Phase(42)" {
		t.Errorf("String = %q", Phase(42).String())
	}
}
