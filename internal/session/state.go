package session

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/hillnet"
)

var (
	ErrTerminated   = errors.New(hillnet.ErrSessionTerminated)
	ErrAuthFailed   = errors.New(hillnet.ErrAuthFailed)
	ErrServerFull   = errors.New(hillnet.ErrServerFull)
	ErrToolNotOwned = errors.New("tool not in inventory")
	ErrToolHeld     = errors.New("tool held by another player")
	ErrNotJoined    = errors.New("session has no player yet")
)

// State is a step of the session lifecycle.
type State uint8

const (
	Connecting State = iota
	Authenticating
	Joining
	Active
	Disconnecting
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Disconnecting:
		return "disconnecting"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// canTransition reports whether from -> to is an edge of the lifecycle. The
// forward path is linear; any live state may fall to Disconnecting.
func canTransition(from, to State) bool {
	switch to {
	case Disconnecting:
		return from < Disconnecting
	case Terminated:
		return from == Disconnecting
	default:
		return to == from+1 && from < Active
	}
}

// transition moves the session to the next state or reports why it cannot.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		if s.state == Terminated {
			return ErrTerminated
		}
		return fmt.Errorf("session: %s -> %s not allowed", s.state, to)
	}
	s.state = to
	if to == Active {
		s.counted = true
		s.m.metrics.Sessions.Add(1)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) live() error {
	if st := s.State(); st >= Disconnecting {
		return fmt.Errorf("%w: %s", ErrTerminated, st)
	}
	return nil
}
