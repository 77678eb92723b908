//go:build !windows

package portmanager

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type systemSignaller struct{}

func (systemSignaller) Interrupt(pid int) error {
	return mapErrno(unix.Kill(pid, unix.SIGTERM))
}

func (systemSignaller) Kill(pid int) error {
	return mapErrno(unix.Kill(pid, unix.SIGKILL))
}

func (systemSignaller) Alive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, mapErrno(err)
	}
}

func mapErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%w: %w", ErrNoSuchProcess, err)
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnknownTermination, err)
	}
}
