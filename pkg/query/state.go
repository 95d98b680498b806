package query

import (
	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/registry"
)

// State is a step of one Execute call.
//
//	Idle -> EnsuringConnection -> CheckedOut -> Executing -> CheckedIn | Failed
//
// EnsuringConnection may repeat if the connection is taken between being
// ensured and checked out.
type State int

const (
	StateIdle State = iota
	StateEnsuringConnection
	StateCheckedOut
	StateExecuting
	StateCheckedIn
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnsuringConnection:
		return "ensuring-connection"
	case StateCheckedOut:
		return "checked-out"
	case StateExecuting:
		return "executing"
	case StateCheckedIn:
		return "checked-in"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s ends an Execute call.
func (s State) Terminal() bool {
	return s == StateCheckedIn || s == StateFailed
}

// Event is one state transition. Conn is set from CheckedOut on, and on a
// terminal event if the call held a connection.
type Event struct {
	Key   registry.Key
	State State
	Conn  backend.Conn
	Err   error
}

// Observer is called synchronously on every transition.
type Observer func(Event)
