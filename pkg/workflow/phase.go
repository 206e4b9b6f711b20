// Package workflow drives a research conversation through its phases: intake of
// requirements, research (discovery and enrichment) and advice, with human checkpoints
// before expensive work.
package workflow

import (
	"errors"
	"fmt"
)

// Phase is a conversation state.
type Phase string

// Phases. The zero value means a session that has not started.
const (
	PhaseUnset    Phase = ""
	PhaseIntake   Phase = "INTAKE"
	PhaseResearch Phase = "RESEARCH"
	PhaseAdvise   Phase = "ADVISE"
	PhaseEnd      Phase = "END"
)

// ErrInvalidTransition rejects a phase change the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid phase transition")

// validTransitions defines the phase state machine. Staying in a phase is always valid.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[Phase][]Phase{
	PhaseUnset: {
		PhaseIntake,
	},
	PhaseIntake: {
		PhaseResearch, // requirements confirmed
	},
	PhaseResearch: {
		PhaseAdvise, // table built, nothing to do, or total failure
	},
	PhaseAdvise: {
		PhaseEnd,      // satisfied
		PhaseResearch, // more options, new fields, re-check
		PhaseIntake,   // requirements changed
	},
	PhaseEnd: {
		PhaseIntake, // a new message starts over
	},
}

// IsValidTransition reports whether a session may move from one phase to another.
func IsValidTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllPhases returns every phase a started session can be in.
func AllPhases() []Phase {
	return []Phase{PhaseIntake, PhaseResearch, PhaseAdvise, PhaseEnd}
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
}
