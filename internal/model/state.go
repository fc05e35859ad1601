package model

import "fmt"

// CycleState is a step of the per-opportunity state machine.
type CycleState string

const (
	StateQuoting    CycleState = "QUOTING"
	StateValidating CycleState = "VALIDATING"
	StateRejected   CycleState = "REJECTED"
	StateApproved   CycleState = "APPROVED"
	StateSubmitting CycleState = "SUBMITTING"
	StateConfirmed  CycleState = "CONFIRMED"
	StateFailed     CycleState = "FAILED"
	StateTimeout    CycleState = "TIMEOUT"
)

var transitions = map[CycleState][]CycleState{
	StateQuoting:    {StateValidating, StateRejected, StateFailed},
	StateValidating: {StateRejected, StateApproved},
	StateApproved:   {StateSubmitting, StateRejected},
	StateSubmitting: {StateConfirmed, StateFailed, StateTimeout},
}

// Terminal reports whether no further transition is possible.
func (s CycleState) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether next is a legal successor of s.
func (s CycleState) CanTransition(next CycleState) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition validates and returns next.
func (s CycleState) Transition(next CycleState) (CycleState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal cycle transition %s -> %s", s, next)
	}
	return next, nil
}
