// Package portmanager answers "who is listening on this port" and terminates
// the processes it finds.
package portmanager

import (
	"errors"
	"fmt"
)

// Listener is a process holding a listening TCP socket on an inspected port.
type Listener struct {
	PID             int    `json:"pid"`
	Command         string `json:"command"`
	FullCommandLine string `json:"fullCommandLine"`
	// Expected is derived at inspection time from the command name and the
	// current run mode.
	Expected bool `json:"expected"`
}

// PortReport is the result of inspecting one port.
type PortReport struct {
	Port      int        `json:"port"`
	Summary   string     `json:"summary"`
	Listeners []Listener `json:"listeners"`
}

var (
	// ErrPortQueryUnavailable means no OS facility for listing listeners could be used.
	ErrPortQueryUnavailable = errors.New("port query unavailable")
	// ErrInvalidPID is returned for pids that must never be signalled.
	ErrInvalidPID = errors.New("invalid pid")
	// ErrPermissionDenied means the caller may not signal the process.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoSuchProcess means the process no longer exists.
	ErrNoSuchProcess = errors.New("no such process")
	// ErrUnknownTermination covers any other failure to terminate.
	ErrUnknownTermination = errors.New("termination failed")
)

// TerminationError carries the pid and reason of a failed termination.
type TerminationError struct {
	PID    int
	Reason string
	Err    error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("failed to terminate pid %d: %s", e.PID, e.Reason)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}
