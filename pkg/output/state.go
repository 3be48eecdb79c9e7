package output

import (
	"fmt"
	"time"
)

// State is the lifecycle position of the output's single connection.
type State int

const (
	// Absent: no socket. The next flush starts with a full handshake.
	Absent State = iota
	Connecting
	Authenticating
	SelectingDB
	// Ready: socket open, authenticated and database selected.
	Ready
)

func (s State) String() string {
	switch s {
	case Absent:
		return "ABSENT"
	case Connecting:
		return "CONNECTING"
	case Authenticating:
		return "AUTHENTICATING"
	case SelectingDB:
		return "SELECTING_DB"
	case Ready:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// StateTransition describes one change of State.
type StateTransition struct {
	From      State
	To        State
	Timestamp time.Time
	// Err is the failure that forced a return to Absent, if any.
	Err error
}

type StateChangeHandler func(StateTransition)

// stateMachine is only touched with Output.mu held.
type stateMachine struct {
	current  State
	handlers []StateChangeHandler
}

/*
Legal transitions:

	Absent         -> Connecting
	Connecting     -> Authenticating | SelectingDB | Absent
	Authenticating -> SelectingDB | Absent
	SelectingDB    -> Ready | Absent
	Ready          -> Absent
*/
func legal(from, to State) bool {
	switch from {
	case Absent:
		return to == Connecting
	case Connecting:
		return to == Authenticating || to == SelectingDB || to == Absent
	case Authenticating:
		return to == SelectingDB || to == Absent
	case SelectingDB:
		return to == Ready || to == Absent
	case Ready:
		return to == Absent
	}
	return false
}

func (sm *stateMachine) transition(to State, err error) error {
	if sm.current == to {
		return nil
	}
	if !legal(sm.current, to) {
		return fmt.Errorf("illegal state transition: %s -> %s", sm.current, to)
	}
	t := StateTransition{From: sm.current, To: to, Timestamp: time.Now(), Err: err}
	sm.current = to
	for _, h := range sm.handlers {
		h(t)
	}
	return nil
}
