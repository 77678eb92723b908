package portmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// DefaultGracePeriod is how long a process has to exit after the graceful
// signal before it is killed.
const DefaultGracePeriod = 3 * time.Second

// signaller delivers signals to pids. Errors are mapped to this package's
// sentinels: ErrNoSuchProcess, ErrPermissionDenied or ErrUnknownTermination.
type signaller interface {
	Interrupt(pid int) error
	Kill(pid int) error
	Alive(pid int) (bool, error)
}

// Terminator stops processes: a graceful signal first, then a forced kill if
// the process is still alive when the grace period ends.
type Terminator struct {
	grace   time.Duration
	sig     signaller
	selfPID int
}

// NewTerminator creates a Terminator. grace <= 0 uses DefaultGracePeriod.
func NewTerminator(grace time.Duration) *Terminator {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Terminator{grace: grace, sig: systemSignaller{}, selfPID: os.Getpid()}
}

// Terminate stops pid. A pid that no longer exists is success.
func (t *Terminator) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 || pid == t.selfPID {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}

	if err := t.sig.Interrupt(pid); err != nil {
		if errors.Is(err, ErrNoSuchProcess) {
			return nil
		}
		return terminationError(pid, err)
	}
	logging.Debug("sent graceful termination", "pid", pid)

	if t.waitExit(ctx, pid) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &TerminationError{PID: pid, Reason: "cancelled while waiting for exit", Err: err}
	}

	logging.Warn("process did not exit within grace period, killing", "pid", pid, "grace", t.grace)
	if err := t.sig.Kill(pid); err != nil {
		if errors.Is(err, ErrNoSuchProcess) {
			return nil
		}
		return terminationError(pid, err)
	}
	return nil
}

// waitExit polls until pid is gone or the grace period ends.
func (t *Terminator) waitExit(ctx context.Context, pid int) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = t.grace

	errStillAlive := errors.New("still alive")
	err := backoff.Retry(func() error {
		alive, err := t.sig.Alive(pid)
		if err != nil {
			return backoff.Permanent(err)
		}
		if alive {
			return errStillAlive
		}
		return nil
	}, backoff.WithContext(b, ctx))
	return err == nil
}

func terminationError(pid int, err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &TerminationError{PID: pid, Reason: "permission denied", Err: err}
	case errors.Is(err, ErrUnknownTermination):
		return &TerminationError{PID: pid, Reason: err.Error(), Err: err}
	default:
		return &TerminationError{PID: pid, Reason: err.Error(), Err: fmt.Errorf("%w: %w", ErrUnknownTermination, err)}
	}
}
