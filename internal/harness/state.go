package harness

import "sync/atomic"

// ConnectionState represents the connection state of a harness client.
type ConnectionState uint32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateManager handles atomic state transitions.
type stateManager struct {
	state atomic.Uint32
}

func (sm *stateManager) get() ConnectionState {
	return ConnectionState(sm.state.Load())
}

func (sm *stateManager) set(s ConnectionState) {
	sm.state.Store(uint32(s))
}

// transition moves from the expected state to the new one and reports success.
func (sm *stateManager) transition(from, to ConnectionState) bool {
	return sm.state.CompareAndSwap(uint32(from), uint32(to))
}
