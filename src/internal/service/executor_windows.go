//go:build windows

package service

import (
	"os"
	"os/exec"
)

func configureProcAttr(*exec.Cmd) {}

// Graceful shutdown via signals is not supported on Windows.
func interruptProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
