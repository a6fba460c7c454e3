package request

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no request row exists for the identifier.
	ErrNotFound = errors.New("request: not found")
	// ErrInvalidTransition is returned for any lifecycle edge not in the
	// transition table. The request is left untouched.
	ErrInvalidTransition = errors.New("request: invalid state transition")
)

// transitions lists every legal lifecycle edge. The assigned -> pending edge
// covers both rejection and reassignment back into the allocation pool.
// Reassignment between live responders is validated separately by the
// dispatcher because it is not a status change.
var transitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusHandled},
	StatusAssigned: {StatusAccepted, StatusPending},
	StatusAccepted: {StatusEnRoute, StatusArrived},
	StatusEnRoute:  {StatusArrived},
	StatusArrived:  {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError wraps ErrInvalidTransition with enough context for the
// caller to render a precise message.
func TransitionError(id string, from, to Status) error {
	return fmt.Errorf("%w: request %s: %s -> %s", ErrInvalidTransition, id, from, to)
}
