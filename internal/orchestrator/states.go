package orchestrator

import (
	"fmt"
	"time"
)

// State is a step of one request through the graph.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateClassified      State = "CLASSIFIED"
	StateCandidatesReady State = "CANDIDATES_READY"
	StateAnnotating      State = "ANNOTATING"
	StateMerged          State = "MERGED"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateReceived:        {StateClassified, StateFailed},
	StateClassified:      {StateCandidatesReady, StateFailed},
	StateCandidatesReady: {StateAnnotating, StateFailed},
	StateAnnotating:      {StateMerged, StateFailed},
	StateMerged:          {StateDone, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether to is reachable from s in one step.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// StateMachine tracks the current state of a run and its history.
type StateMachine struct {
	current State
	history []Transition
}

func newStateMachine() StateMachine {
	return StateMachine{current: StateReceived}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	return m.current
}

// History returns the recorded transitions in order.
func (m *StateMachine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

func (m *StateMachine) advance(to State, at time.Time) error {
	if !m.current.CanTransition(to) {
		return fmt.Errorf("invalid transition %s -> %s", m.current, to)
	}
	m.history = append(m.history, Transition{From: m.current, To: to, At: at})
	m.current = to
	return nil
}
