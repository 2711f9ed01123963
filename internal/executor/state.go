package executor

// State is an operation's position in its lifecycle. Exactly one terminal
// state is reached per operation.
type State int

const (
	StatePending State = iota
	StateRouting
	StateApproving
	StateSubmitting
	StateAwaitingConfirmation
	StateConfirmed
	StateReverted
	StateTimedOut
	StateFailed
	StateCancelled
)

// String returns the wire name of the state, as carried in transition events.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRouting:
		return "routing"
	case StateApproving:
		return "approving"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateConfirmed:
		return "confirmed"
	case StateReverted:
		return "reverted"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the operation lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateReverted, StateTimedOut, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}
