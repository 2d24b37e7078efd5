package report

import "fmt"

// Phase is the scheduling state of a task within a run.
type Phase int

const (
	PhasePending Phase = iota
	PhaseReady
	PhaseRunning
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "PENDING"
	case PhaseReady:
		return "READY"
	case PhaseRunning:
		return "RUNNING"
	case PhaseDone:
		return "DONE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// allowed lists legal transitions. PENDING goes straight to DONE when a
// dependency failed and the task cannot start.
var allowed = map[Phase][]Phase{
	PhasePending: {PhaseReady, PhaseDone},
	PhaseReady:   {PhaseRunning, PhaseDone},
	PhaseRunning: {PhaseDone},
}

// CanTransition reports whether moving from p to next is legal.
func (p Phase) CanTransition(next Phase) bool {
	for _, candidate := range allowed[p] {
		if candidate == next {
			return true
		}
	}
	return false
}
