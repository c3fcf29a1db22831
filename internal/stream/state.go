package stream

// State is the lifecycle position of a subscription handle.
type State int32

const (
	StateCreated State = iota
	StateRunning
	// StateClosed means the source sequence was exhausted.
	StateClosed
	// StateErrored means the source failed; the handle holds the error.
	StateErrored
	// StateStopped means the caller stopped the subscription.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored || s == StateStopped
}
