// Package progress projects a job's numeric progress onto the fixed sequence of
// generation phases shown to operators. It is a display derivation only.
package progress

import "math"

// PhaseScale is the amount of server progress attributed to each phase.
const PhaseScale = 100

type Phase struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Phases is the ordered list of generation stages.
var Phases = []Phase{
	{Key: "validation", Label: "Data Validation"},
	{Key: "conflict_detection", Label: "Conflict Detection"},
	{Key: "algorithm_initialization", Label: "Algorithm Initialization"},
	{Key: "schedule_generation", Label: "Schedule Generation"},
	{Key: "constraint_verification", Label: "Constraint Verification"},
	{Key: "optimization", Label: "Optimization"},
	{Key: "final_validation", Label: "Final Validation"},
}

type PhaseState string

const (
	StateDone       PhaseState = "done"
	StateInProgress PhaseState = "in_progress"
	StatePending    PhaseState = "pending"
)

type PhaseStatus struct {
	Phase
	State PhaseState `json:"state"`
}

// Projection is the phase view of a single progress reading.
type Projection struct {
	Index   int           `json:"index"`
	Percent int           `json:"percent"`
	Phases  []PhaseStatus `json:"phases"`
}

// Map returns the index of the current phase: floor(progress/100) capped at
// phaseCount. Negative or NaN progress maps to 0.
func Map(progress float64, phaseCount int) int {
	if phaseCount <= 0 || math.IsNaN(progress) || progress <= 0 {
		return 0
	}
	idx := math.Floor(progress / PhaseScale)
	if idx >= float64(phaseCount) {
		return phaseCount
	}
	return int(idx)
}

// Project builds the full projection over the first phaseCount entries of Phases.
func Project(progress float64, phaseCount int) Projection {
	phaseCount = clampCount(phaseCount)
	idx := Map(progress, phaseCount)
	percent := 0
	if phaseCount > 0 && progress > 0 && !math.IsNaN(progress) {
		percent = int(math.Floor(progress / float64(phaseCount*PhaseScale) * 100))
		if percent > 100 {
			percent = 100
		}
	}
	return build(idx, percent, phaseCount)
}

// Complete is the projection of a finished job: every phase done, 100%.
func Complete(phaseCount int) Projection {
	phaseCount = clampCount(phaseCount)
	return build(phaseCount, 100, phaseCount)
}

func build(idx, percent, phaseCount int) Projection {
	out := Projection{Index: idx, Percent: percent, Phases: make([]PhaseStatus, phaseCount)}
	for i := 0; i < phaseCount; i++ {
		st := StatePending
		switch {
		case i < idx:
			st = StateDone
		case i == idx:
			st = StateInProgress
		}
		out.Phases[i] = PhaseStatus{Phase: Phases[i], State: st}
	}
	return out
}

func clampCount(n int) int {
	if n <= 0 || n > len(Phases) {
		return len(Phases)
	}
	return n
}

// Current returns the in-progress phase, or false when every phase is done.
func (p Projection) Current() (Phase, bool) {
	if p.Index < 0 || p.Index >= len(p.Phases) {
		return Phase{}, false
	}
	return p.Phases[p.Index].Phase, true
}
