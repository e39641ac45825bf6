package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/pys60/pysbuild/internal/config"
)

// Phase is a step of the per (platform, flavor) build state machine.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseConfigured
	PhaseEmulatorBuilt
	PhaseTested
	PhaseDeviceBuilt
	PhaseRepackaged
	PhasePackaged
	PhaseMoved
)

var phaseNames = [...]string{
	PhaseNone:          "None",
	PhaseConfigured:    "Configured",
	PhaseEmulatorBuilt: "EmulatorBuilt",
	PhaseTested:        "Tested",
	PhaseDeviceBuilt:   "DeviceBuilt",
	PhaseRepackaged:    "Repackaged",
	PhasePackaged:      "Packaged",
	PhaseMoved:         "Moved",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Key identifies one state machine. The emulator build of a pair is tracked
// apart from its device build.
type Key struct {
	Platform string
	Flavor   string
	Emulator bool
}

func (k Key) String() string {
	if k.Emulator {
		return k.Platform + "/" + k.Flavor + " (emu)"
	}
	return k.Platform + "/" + k.Flavor
}

// TransitionError is returned when a phase would move backwards or repeat.
type TransitionError struct {
	Key  Key
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal phase transition %s -> %s", e.Key, e.From, e.To)
}

// Transition is one recorded phase change.
type Transition struct {
	Key  Key
	From Phase
	To   Phase
	At   time.Time
}

// Run is the state of one pipeline invocation.
type Run struct {
	ID      string
	Mode    config.Mode
	Started time.Time

	mu          sync.Mutex
	phases      map[Key]Phase
	transitions []Transition
}

// NewRun creates a run with every pair in PhaseNone.
func NewRun(id string, mode config.Mode) *Run {
	return &Run{ID: id, Mode: mode, Started: now(), phases: make(map[Key]Phase)}
}

// Phase returns the current phase of k.
func (r *Run) Phase(k Key) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phases[k]
}

// Check reports whether k may advance to the given phase.
func (r *Run) Check(k Key, to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked(k, to)
}

func (r *Run) checkLocked(k Key, to Phase) error {
	if from := r.phases[k]; to <= from || to > PhaseMoved {
		return &TransitionError{Key: k, From: from, To: to}
	}
	return nil
}

// Advance moves k forward to the given phase. Phases may be skipped, never
// repeated or reversed.
func (r *Run) Advance(k Key, to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(k, to); err != nil {
		return err
	}
	r.transitions = append(r.transitions, Transition{Key: k, From: r.phases[k], To: to, At: now()})
	r.phases[k] = to
	return nil
}

// Transitions returns the recorded phase changes in order.
func (r *Run) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}
