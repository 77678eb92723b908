// Package service supervises the locally spawned gateway process.
package service

import (
	"errors"
	"time"
)

// State is the gateway lifecycle state.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

// Active reports whether the state owns (or is acquiring) a gateway.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateRestarting
}

// Status is a snapshot of the supervisor.
type Status struct {
	State State `json:"state"`
	// Reason explains a Failed state or the last unexpected exit.
	Reason string `json:"reason,omitempty"`
	PID    int    `json:"pid,omitempty"`
	// Attached is set when Running refers to an instance this process did not spawn.
	Attached     bool      `json:"attached"`
	RestartCount int       `json:"restartCount"`
	Since        time.Time `json:"since"`
}

var (
	// ErrSpawn covers a missing toolchain or project root and launch failures.
	ErrSpawn = errors.New("spawn failed")
	// ErrProbe means an existing gateway could not be found in attach-only mode.
	ErrProbe = errors.New("gateway probe failed")
	// ErrStartInProgress rejects a start while another start is in flight.
	ErrStartInProgress = errors.New("start already in progress")
	// ErrAlreadyRunning rejects a start while the gateway is active.
	ErrAlreadyRunning = errors.New("gateway already running")
)
