package session

import (
	"fmt"

	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// State is the Coordinator's position in the session state machine.
type State int

const (
	// StateIdle means no session is active.
	StateIdle State = iota
	// StateHostRunning means this process owns the roster and accepts peers.
	StateHostRunning
	// StateClientJoining means a join request is in flight.
	StateClientJoining
	// StateClientConnected means the host approved the join and mutations are being applied.
	StateClientConnected
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateHostRunning:     "host_running",
	StateClientJoining:   "client_joining",
	StateClientConnected: "client_connected",
}

// String returns the snake_case state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name for JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Role returns "host", "client" or "" for the state.
func (s State) Role() string {
	switch s {
	case StateHostRunning:
		return RoleHost
	case StateClientJoining, StateClientConnected:
		return RoleClient
	default:
		return ""
	}
}

// Session roles.
const (
	RoleHost   = "host"
	RoleClient = "client"
)

// Player is the display form of a roster entry.
type Player struct {
	ConnectionID uint64 `json:"connection_id" yaml:"connection_id"`
	DisplayName  string `json:"display_name" yaml:"display_name"`
}

// Snapshot is a point-in-time view of the Coordinator for display.
type Snapshot struct {
	State     State    `json:"state" yaml:"state"`
	Role      string   `json:"role,omitempty" yaml:"role,omitempty"`
	SessionID string   `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Capacity  int      `json:"capacity" yaml:"capacity"`
	Players   []Player `json:"players" yaml:"players"`
}

func playersOf(records []roster.PlayerRecord) []Player {
	out := make([]Player, len(records))
	for i, r := range records {
		out[i] = Player{ConnectionID: uint64(r.ConnectionID), DisplayName: r.DisplayName}
	}
	return out
}
