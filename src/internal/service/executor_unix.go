//go:build !windows

package service

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcAttr puts the child in its own process group so package
// manager wrappers and the gateway they start are signalled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptProcess(p *os.Process) error {
	return signalGroup(p.Pid, unix.SIGINT)
}

func killProcess(p *os.Process) error {
	return signalGroup(p.Pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone; fall back to the leader alone.
		err = unix.Kill(pid, sig)
	}
	return err
}
