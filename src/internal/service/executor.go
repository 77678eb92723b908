package service

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// LaunchSpec describes a gateway process to start.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Process is a running gateway child.
type Process interface {
	PID() int
	// Output yields combined stdout and stderr until the process exits.
	Output() io.Reader
	// Wait blocks until the process exits.
	Wait() error
	// Stop interrupts the process, then kills it after timeout.
	Stop(ctx context.Context, timeout time.Duration) error
}

// Launcher starts gateway processes.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher starts processes with os/exec.
type ExecLauncher struct{}

// waitDelay bounds how long Wait waits for output pipes held open by
// grandchildren after the child exits.
const waitDelay = 2 * time.Second

// Launch implements Launcher.
func (ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("no command specified")
	}

	// #nosec G204 -- command comes from the resolved gateway toolchain
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.WaitDelay = waitDelay
	configureProcAttr(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	p := &execProcess{cmd: cmd, output: pr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		_ = pw.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output *io.PipeReader
	done   chan struct{}
	err    error

	stopOnce sync.Once
	stopErr  error
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Output() io.Reader { return p.output }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

// Stop sends an interrupt, waits for timeout, then force kills.
func (p *execProcess) Stop(ctx context.Context, timeout time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(ctx, timeout)
	})
	return p.stopErr
}

func (p *execProcess) stop(ctx context.Context, timeout time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.PID()
	logging.Info("stopping gateway", "pid", pid, "timeout", timeout)

	if err := interruptProcess(p.cmd.Process); err != nil {
		logging.Warn("graceful shutdown signal failed, forcing kill", "pid", pid, "error", err)
		return p.kill()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		logging.Info("gateway stopped gracefully", "pid", pid)
		return nil
	case <-timer.C:
		logging.Warn("graceful shutdown timeout, forcing kill", "pid", pid, "timeout", timeout)
	case <-ctx.Done():
		logging.Warn("stop cancelled, forcing kill", "pid", pid)
	}
	return p.kill()
}

func (p *execProcess) kill() error {
	if err := killProcess(p.cmd.Process); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-p.done
	return nil
}
