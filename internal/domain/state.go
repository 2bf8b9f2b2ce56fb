package domain

import (
	"errors"
	"fmt"
	"strings"
)

// State is a vehicle lifecycle state.
type State string

const (
	StateAvailable     State = "AVAILABLE"
	StateReserved      State = "RESERVED"
	StateInUse         State = "IN_USE"
	StateMaintenance   State = "MAINTENANCE"
	StateRelocating    State = "RELOCATING"
	StateEmergencyLock State = "EMERGENCY_LOCK"
)

// States lists every lifecycle state in declaration order.
var States = []State{
	StateAvailable,
	StateReserved,
	StateInUse,
	StateMaintenance,
	StateRelocating,
	StateEmergencyLock,
}

// transitions is the allowed-successor table. EMERGENCY_LOCK is reachable
// from every state and is handled before the table lookup.
var transitions = map[State][]State{
	StateAvailable:     {StateReserved, StateRelocating},
	StateReserved:      {StateInUse, StateAvailable},
	StateInUse:         {StateAvailable, StateMaintenance, StateEmergencyLock},
	StateMaintenance:   {StateAvailable},
	StateRelocating:    {StateAvailable},
	StateEmergencyLock: {StateMaintenance},
}

// ErrInvalidTransition is the sentinel wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError reports a rejected (from, to) pair.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	from := e.From
	if from == "" {
		from = "<unset>"
	}
	return fmt.Sprintf("invalid transition %s->%s", from, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Valid reports whether s is one of the declared lifecycle states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from->to is an allowed transition.
//
// Any state, including an unset one, may enter EMERGENCY_LOCK. Every other
// pair is looked up in the successor table; unknown source states permit
// nothing else.
func CanTransition(from, to State) bool {
	if to == StateEmergencyLock {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError when from->to is not allowed.
func ValidateTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return st, nil
}
