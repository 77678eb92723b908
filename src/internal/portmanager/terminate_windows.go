//go:build windows

package portmanager

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// Windows has no graceful signal for arbitrary processes, so Interrupt and
// Kill both terminate.
type systemSignaller struct{}

func (systemSignaller) Interrupt(pid int) error {
	return kill(pid)
}

func (systemSignaller) Kill(pid int) error {
	return kill(pid)
}

func (systemSignaller) Alive(pid int) (bool, error) {
	return process.PidExists(int32(pid)) // #nosec G115 -- pids fit in int32
}

func kill(pid int) error {
	p, err := process.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return fmt.Errorf("%w: %w", ErrNoSuchProcess, err)
		}
		return fmt.Errorf("%w: %w", ErrUnknownTermination, err)
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		if exists, _ := process.PidExists(int32(pid)); !exists { // #nosec G115
			return fmt.Errorf("%w: %w", ErrNoSuchProcess, err)
		}
		return fmt.Errorf("%w: %w", ErrUnknownTermination, err)
	}
	return nil
}
