package registration

// State is a registration (or secure session sub-) state.
type State uint8

const (
	// StateNotStarted is the initial state.
	StateNotStarted State = iota

	// StateStarted means an attempt is in flight.
	StateStarted

	// StateCompleted means the attempt succeeded.
	StateCompleted

	// StateCancelled means the attempt was cancelled by the caller.
	StateCancelled

	// StateTimedOut means the attempt did not finish before the timeout.
	StateTimedOut

	// StateErrored means the attempt failed.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateStarted:
		return "STARTED"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true for states that end an attempt.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateTimedOut, StateErrored:
		return true
	default:
		return false
	}
}

// Restartable returns true if Start is accepted from this state.
func (s State) Restartable() bool {
	switch s {
	case StateNotStarted, StateCancelled, StateTimedOut, StateErrored:
		return true
	default:
		return false
	}
}

// Event is reported by the secure session while an attempt is in flight.
type Event uint8

const (
	// EventStarted means the handshake has begun.
	EventStarted Event = iota

	// EventCompleted means the session key is ready.
	EventCompleted

	// EventError means the handshake failed.
	EventError
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventStarted:
		return "STARTED"
	case EventCompleted:
		return "COMPLETED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Next returns the state reached from s on trigger, and whether the
// transition is allowed.
func Next(s State, trigger Trigger) (State, bool) {
	switch trigger {
	case TriggerStart:
		if s.Restartable() {
			return StateStarted, true
		}
	case TriggerCompleted:
		if s == StateStarted {
			return StateCompleted, true
		}
	case TriggerError:
		if s == StateStarted {
			return StateErrored, true
		}
	case TriggerCancel:
		if s == StateStarted {
			return StateCancelled, true
		}
	case TriggerTimeout:
		if s == StateStarted {
			return StateTimedOut, true
		}
	case TriggerReset:
		return StateNotStarted, true
	}
	return s, false
}

// Trigger is anything that can move the registration state.
type Trigger uint8

const (
	TriggerStart Trigger = iota
	TriggerCompleted
	TriggerError
	TriggerCancel
	TriggerTimeout
	TriggerReset

	numTriggers
)

// String returns a human-readable trigger name.
func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "START"
	case TriggerCompleted:
		return "COMPLETED"
	case TriggerError:
		return "ERROR"
	case TriggerCancel:
		return "CANCEL"
	case TriggerTimeout:
		return "TIMEOUT"
	case TriggerReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}
