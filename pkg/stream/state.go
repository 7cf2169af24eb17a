package stream

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int

const (
	// StateIdle is the initial state, the state after Stop, and the
	// transient state of a transport switch.
	StateIdle ConnectionState = iota
	// StateConnecting means a session has been created and is negotiating.
	StateConnecting
	// StateConnected means the session is open or media is flowing.
	StateConnected
	// StateReconnecting means the last session failed and a retry is scheduled.
	StateReconnecting
	// StateFailed is reserved for a hard failure. The client retries
	// indefinitely and never enters it on its own.
	StateFailed
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsConnecting returns true while a connection is being established or
// re-established.
func (s ConnectionState) IsConnecting() bool {
	return s == StateConnecting || s == StateReconnecting
}
