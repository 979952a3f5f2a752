// Package agentrt implements the agent runtime: the broker connection
// state machine with reconnect backoff, heartbeats, the single-instance
// guard, command pumping into the dispatcher, and the watchdog restart
// path.
package agentrt

import "sync/atomic"

// State is the agent connection state. Heartbeats and command dispatch
// only happen in StateLive.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateLive
	StateShutdown
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateLive:
		return "live"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// stateVar is an atomic State holder.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() State      { return State(s.v.Load()) }
func (s *stateVar) set(state State) { s.v.Store(int32(state)) }

// transition moves from one expected state to another, reporting whether
// the swap happened. Once in StateShutdown no transition leaves it.
func (s *stateVar) transition(from, to State) bool {
	if from == StateShutdown {
		return false
	}
	return s.v.CompareAndSwap(int32(from), int32(to))
}
