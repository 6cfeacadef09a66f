package pipeline

import (
	"fmt"
	"log/slog"
)

// State is a step of the turn state machine.
type State int

const (
	Received State = iota
	Preprocessed
	IntentScored
	EntitiesExtracted
	AmbiguityResolved
	Validated
	Executed
	Learned
	Done
	Failed
)

var stateNames = [...]string{
	Received:          "received",
	Preprocessed:      "preprocessed",
	IntentScored:      "intent_scored",
	EntitiesExtracted: "entities_extracted",
	AmbiguityResolved: "ambiguity_resolved",
	Validated:         "validated",
	Executed:          "executed",
	Learned:           "learned",
	Done:              "done",
	Failed:            "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Done || s == Failed }

// CanTransition reports whether the state machine allows from → to. Each
// state advances to the next one; Failed is reachable only from Validated
// and Executed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return from == Validated || from == Executed
	}
	return to == from+1 && to <= Done
}

// machine tracks one turn's state. An illegal transition is a programming
// error: it is logged and applied anyway so the turn still completes.
type machine struct {
	state  State
	logger *slog.Logger
}

func (m *machine) advance(to State) {
	if !CanTransition(m.state, to) {
		m.logger.Error("illegal turn state transition", "from", m.state, "to", to)
	}
	m.state = to
}
