package relay

// State is the lifecycle position of one request.
type State int

const (
	StateIdle State = iota
	StateSpawning
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Transition is reported to a state observer each time a request changes state.
type Transition struct {
	RequestID string
	SessionID string
	From      State
	To        State
	// Err is set for transitions into StateFailed.
	Err error
}
