package tunnel

// State is the position of a single start attempt.
type State uint32

const (
	StateNotStarted State = iota
	StateSpawned
	StateURLDiscovered
	StateTimedOut
	StateProcessExited
	StateAuthError
	// StateCanceled means the caller gave up before the attempt settled.
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSpawned:
		return "spawned"
	case StateURLDiscovered:
		return "url_discovered"
	case StateTimedOut:
		return "timed_out"
	case StateProcessExited:
		return "process_exited"
	case StateAuthError:
		return "auth_error"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateURLDiscovered && s <= StateCanceled
}
