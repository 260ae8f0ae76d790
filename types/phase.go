package types

import (
	"slices"
	"time"
)

// Phase is a state of the run controller lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhaseStopping   Phase = "stopping"
	PhaseCollecting Phase = "collecting"
	PhaseComparing  Phase = "comparing"
	PhaseDone       Phase = "done"
)

// Starting may skip Running and go straight to Stopping when a start fails.
// Collecting and Comparing may end early on cancellation.
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseStarting},
	PhaseStarting:   {PhaseRunning, PhaseStopping},
	PhaseRunning:    {PhaseStopping},
	PhaseStopping:   {PhaseCollecting, PhaseDone},
	PhaseCollecting: {PhaseComparing, PhaseDone},
	PhaseComparing:  {PhaseDone},
}

// CanTransition reports whether the lifecycle allows moving from p to next.
func (p Phase) CanTransition(next Phase) bool {
	return slices.Contains(phaseTransitions[p], next)
}

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone
}

// PhaseRecord marks when the controller entered a phase.
type PhaseRecord struct {
	Phase     Phase     `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
}
