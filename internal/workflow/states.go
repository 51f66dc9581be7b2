// Package workflow drives one interview session through its state machine:
// each submitted answer advances the session exactly one round.
package workflow

import "fmt"

// State is a node in the session state machine.
type State string

const (
	StateInterview         State = "INTERVIEW"
	StateThresholdCheck    State = "THRESHOLD_CHECK"
	StateGenerateInstances State = "GENERATE_INSTANCES"
	StateContextUpdate     State = "CONTEXT_UPDATE"
	StateComplete          State = "COMPLETE"
	StateError             State = "ERROR"
)

// transitions is the static edge set. Any edge not listed is illegal; ERROR
// is reachable from every non-terminal state, COMPLETE and ERROR are terminal.
var transitions = map[State][]State{
	StateInterview:         {StateThresholdCheck, StateContextUpdate, StateError},
	StateThresholdCheck:    {StateGenerateInstances, StateInterview, StateError},
	StateGenerateInstances: {StateContextUpdate, StateError},
	StateContextUpdate:     {StateComplete, StateInterview, StateError},
	StateComplete:          {},
	StateError:             {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing edges.
func Terminal(s State) bool {
	return len(transitions[s]) == 0
}

func init() {
	// The table is static; verify at startup that every named state appears
	// and every edge target is a known state.
	known := map[State]bool{
		StateInterview: true, StateThresholdCheck: true, StateGenerateInstances: true,
		StateContextUpdate: true, StateComplete: true, StateError: true,
	}
	for from, tos := range transitions {
		if !known[from] {
			panic(fmt.Sprintf("workflow: unknown state in transition table: %s", from))
		}
		for _, to := range tos {
			if !known[to] {
				panic(fmt.Sprintf("workflow: unknown transition target: %s -> %s", from, to))
			}
		}
	}
	for s := range known {
		if _, ok := transitions[s]; !ok {
			panic(fmt.Sprintf("workflow: state missing from transition table: %s", s))
		}
	}
}
