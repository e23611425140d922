package channels

import "fmt"

// State is the lifecycle state of an Entry. States are ordered and an entry
// only ever moves forward.
type State int

const (
	StateUnknown State = iota
	StateConnecting
	StateSettling
	StateActive
	StateDraining
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSettling:
		return "settling"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// TransitionTo returns newState when moving from s to newState is allowed.
func (s State) TransitionTo(newState State) (State, error) {
	switch s {
	case StateConnecting:
		switch newState {
		case StateSettling, StateDraining, StateDestroyed:
			return newState, nil
		}
	case StateSettling:
		switch newState {
		case StateActive, StateDraining, StateDestroyed:
			return newState, nil
		}
	case StateActive:
		switch newState {
		case StateDraining, StateDestroyed:
			return newState, nil
		}
	case StateDraining:
		if newState == StateDestroyed {
			return newState, nil
		}
	}

	return StateUnknown, fmt.Errorf("%w from %v to %v", ErrInvalidTransition, s, newState)
}
