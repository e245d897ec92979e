package registry

import (
	"fmt"
	"time"

	"holedeck/internal/engine"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateStarting:      "starting",
	StateRunning:       "running",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Session is a point-in-time copy of a registry entry. It never carries the
// engine handle.
type Session struct {
	ID        string          `json:"id"`
	Mode      engine.Mode     `json:"mode"`
	State     State           `json:"state"`
	Contract  engine.Contract `json:"contract"`
	Info      engine.Info     `json:"info"`
	CreatedAt time.Time       `json:"created_at"`
	ReadyAt   time.Time       `json:"ready_at"`
}
