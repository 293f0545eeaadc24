package agent

// ConnectionState is the client's view of its hub connection.
type ConnectionState int32

const (
	// StateDisconnected means no connection is open.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateConnected means the socket is open and events are flowing.
	StateConnected

	// StateClosed means the client was stopped and will not reconnect.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
