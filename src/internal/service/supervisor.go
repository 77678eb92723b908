package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/ssalihsrz/openclaw/src/internal/detector"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

// ToolchainResolver turns settings into a launchable command.
type ToolchainResolver interface {
	Resolve(s settings.Settings) (detector.Toolchain, error)
}

const (
	statusSubscriberBuffer = 16
	outputChunkSize        = 4096
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the os/exec launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithResolver replaces the toolchain resolver.
func WithResolver(r ToolchainResolver) Option {
	return func(s *Supervisor) { s.resolver = r }
}

// WithProbe replaces the port probe used for readiness and attach-only mode.
func WithProbe(p PortProbe) Option {
	return func(s *Supervisor) { s.probe = p }
}

// run is one supervised launch sequence, from Start until Stop or Failed.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Supervisor.mu
	proc      Process
	runningAt time.Time
}

// Supervisor owns the gateway process lifecycle.
type Supervisor struct {
	store    *settings.Store
	launcher Launcher
	resolver ToolchainResolver
	probe    PortProbe
	log      *LogBuffer

	mu           sync.Mutex
	starting     bool
	status       Status
	restartCount int
	current      *run
	subs         map[chan Status]struct{}
}

// New creates a stopped supervisor.
func New(store *settings.Store, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:    store,
		launcher: ExecLauncher{},
		resolver: detector.NewResolver(time.Minute),
		probe:    WaitForPort,
		log:      NewLogBuffer(store.Get().Log.MaxBytes),
		status:   Status{State: StateStopped, Since: time.Now()},
		subs:     make(map[chan Status]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.RestartCount = s.restartCount
	return st
}

// RestartCount returns the number of restarts since this process started.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// Log returns the gateway output buffer.
func (s *Supervisor) Log() *LogBuffer {
	return s.log
}

// AppendLog adds a chunk to the gateway log.
func (s *Supervisor) AppendLog(chunk string) {
	s.log.Append(chunk)
}

// ClearLog empties the gateway log.
func (s *Supervisor) ClearLog() {
	s.log.Clear()
}

// Subscribe returns a channel receiving every status change.
// Slow subscribers only see the latest status.
func (s *Supervisor) Subscribe() chan Status {
	ch := make(chan Status, statusSubscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Supervisor) Unsubscribe(ch chan Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// setStateLocked records a transition and notifies subscribers. s.mu must be held.
func (s *Supervisor) setStateLocked(state State, reason string, pid int, attached bool) {
	s.status = Status{
		State:    state,
		Reason:   reason,
		PID:      pid,
		Attached: attached,
		Since:    time.Now(),
	}
	snapshot := s.status
	snapshot.RestartCount = s.restartCount

	logging.Debug("gateway state changed", "state", string(state), "reason", reason, "pid", pid)
	for ch := range s.subs {
		for {
			select {
			case ch <- snapshot:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (s *Supervisor) setState(state State, reason string, pid int, attached bool) {
	s.mu.Lock()
	s.setStateLocked(state, reason, pid, attached)
	s.mu.Unlock()
}

// Start launches the gateway, or in attach-only mode probes for an existing
// instance without spawning.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return ErrStartInProgress
	}
	if s.status.State.Active() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.starting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	cfg := s.store.Get()
	if cfg.AttachOnly {
		return s.attach(ctx, cfg)
	}
	return s.spawn(cfg)
}

func (s *Supervisor) attach(ctx context.Context, cfg settings.Settings) error {
	port := cfg.PrimaryPort()
	s.setState(StateStarting, "probing for existing gateway", 0, true)

	if err := s.probe(ctx, port, cfg.Gateway.ProbeTimeout); err != nil {
		reason := fmt.Sprintf("no gateway listening on port %d", port)
		s.setState(StateFailed, reason, 0, true)
		logging.Warn("attach probe failed", "port", port, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrProbe, reason, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.status.State != StateStarting {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: gateway stopped during attach", ErrProbe)
	}
	s.current = r
	s.setStateLocked(StateRunning, "", 0, true)
	s.mu.Unlock()

	logging.Info("attached to existing gateway", "port", port)
	go s.monitorAttached(runCtx, r, cfg)
	return nil
}

// monitorAttached re-probes an attached gateway until it stops answering or
// the run is cancelled.
func (s *Supervisor) monitorAttached(ctx context.Context, r *run, cfg settings.Settings) {
	defer close(r.done)

	port := cfg.PrimaryPort()
	ticker := time.NewTicker(cfg.Gateway.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.probe(ctx, port, cfg.Gateway.ProbeTimeout)
		if err == nil || ctx.Err() != nil {
			continue
		}

		s.mu.Lock()
		if s.current == r {
			s.current = nil
			s.setStateLocked(StateFailed, fmt.Sprintf("%v: gateway on port %d stopped responding", ErrProbe, port), 0, true)
		}
		s.mu.Unlock()
		logging.Warn("attached gateway stopped responding", "port", port, "error", err)
		return
	}
}

func (s *Supervisor) spawn(cfg settings.Settings) error {
	tc, err := s.resolver.Resolve(cfg)
	if err != nil {
		s.setState(StateFailed, err.Error(), 0, false)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	spec := LaunchSpec{
		Command: tc.Command,
		Args:    tc.Args,
		Dir:     tc.Root,
		Env:     tc.Env(os.Environ()),
	}

	breaker := newCrashLoopBreaker(cfg.Restart.MaxConsecutiveFailures)
	done, err := breaker.Allow()
	if err != nil {
		s.setState(StateFailed, err.Error(), 0, false)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	s.setState(StateStarting, "", 0, false)
	proc, err := s.launcher.Launch(spec)
	if err != nil {
		done(false)
		s.setState(StateFailed, err.Error(), 0, false)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	logging.Info("gateway started", "pid", proc.PID(), "command", spec.Command)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{}), proc: proc}

	s.mu.Lock()
	if s.status.State != StateStarting {
		// Stopped while launching.
		s.mu.Unlock()
		cancel()
		go func() { _, _ = io.Copy(io.Discard, proc.Output()) }()
		_ = proc.Stop(context.Background(), cfg.Gateway.StopTimeout)
		return fmt.Errorf("%w: gateway stopped during start", ErrSpawn)
	}
	s.current = r
	s.status.PID = proc.PID()
	s.mu.Unlock()

	go s.supervise(runCtx, r, cfg, spec, breaker, done)
	return nil
}

// newCrashLoopBreaker trips after max consecutive failures and stays open
// until a new breaker is created by an explicit start.
func newCrashLoopBreaker(max int) *gobreaker.TwoStepCircuitBreaker {
	limit := uint32(max) // #nosec G115 -- validated positive
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 1,
		Timeout:     24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Debug("crash-loop breaker state changed", "from", from.String(), "to", to.String())
		},
	})
}

// supervise watches the child and respawns it on unexpected exit.
func (s *Supervisor) supervise(ctx context.Context, r *run, cfg settings.Settings, spec LaunchSpec, breaker *gobreaker.TwoStepCircuitBreaker, done func(bool)) {
	defer close(r.done)

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = cfg.Restart.InitialDelay
	delays.MaxInterval = cfg.Restart.MaxDelay
	delays.MaxElapsedTime = 0
	delays.Reset()

	proc := r.proc
	for {
		exitErr := s.watch(ctx, r, proc, cfg)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		runningAt := r.runningAt
		s.mu.Unlock()

		stable := !runningAt.IsZero() && time.Since(runningAt) >= cfg.Restart.StableAfter
		done(stable)
		if stable {
			delays.Reset()
		}

		reason := "gateway exited"
		if exitErr != nil {
			reason = fmt.Sprintf("gateway exited: %v", exitErr)
		}
		logging.Warn("gateway exited unexpectedly", "pid", proc.PID(), "error", exitErr, "stable", stable)

		for {
			if breaker.State() == gobreaker.StateOpen {
				s.fail(r, fmt.Sprintf("%s; giving up after %d consecutive failures", reason, breaker.Counts().ConsecutiveFailures))
				return
			}

			s.mu.Lock()
			s.restartCount++
			r.proc = nil
			r.runningAt = time.Time{}
			s.setStateLocked(StateRestarting, reason, 0, false)
			s.mu.Unlock()

			if !sleepCtx(ctx, delays.NextBackOff()) {
				return
			}

			var err error
			done, err = breaker.Allow()
			if err != nil {
				s.fail(r, fmt.Sprintf("%s; %v", reason, err))
				return
			}
			proc, err = s.launcher.Launch(spec)
			if err != nil {
				done(false)
				reason = fmt.Sprintf("respawn failed: %v", err)
				logging.Error("gateway respawn failed", "error", err)
				continue
			}
			break
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			go func() { _, _ = io.Copy(io.Discard, proc.Output()) }()
			_ = proc.Stop(context.Background(), cfg.Gateway.StopTimeout)
			return
		}
		r.proc = proc
		s.status.PID = proc.PID()
		s.mu.Unlock()
		logging.Info("gateway restarted", "pid", proc.PID())
	}
}

// watch pumps output into the log and marks the run Running on the first
// chunk or when the primary port accepts connections. It returns the exit error.
func (s *Supervisor) watch(ctx context.Context, r *run, proc Process, cfg settings.Settings) error {
	readyCtx, cancelReady := context.WithCancel(ctx)
	defer cancelReady()

	go func() {
		if err := s.probe(readyCtx, cfg.PrimaryPort(), cfg.Gateway.ReadyTimeout); err == nil {
			s.markRunning(r, proc)
		}
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.pump(r, proc)
	}()

	err := proc.Wait()
	<-readerDone
	return err
}

// pump is the only automatic writer to the log.
func (s *Supervisor) pump(r *run, proc Process) {
	buf := make([]byte, outputChunkSize)
	out := proc.Output()
	for {
		n, err := out.Read(buf)
		if n > 0 {
			s.log.Append(string(buf[:n]))
			s.markRunning(r, proc)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logging.Debug("gateway output read failed", "error", err)
			}
			return
		}
	}
}

func (s *Supervisor) markRunning(r *run, proc Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != r || r.proc != proc || !r.runningAt.IsZero() {
		return
	}
	r.runningAt = time.Now()
	s.setStateLocked(StateRunning, "", proc.PID(), false)
}

func (s *Supervisor) fail(r *run, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != r {
		return
	}
	r.proc = nil
	s.current = nil
	s.setStateLocked(StateFailed, reason, 0, false)
	logging.Error("gateway failed", "reason", reason)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop shuts the gateway down gracefully and leaves the supervisor Stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	s.current = nil
	var proc Process
	if r != nil {
		proc = r.proc
		r.cancel()
	}
	s.mu.Unlock()

	var err error
	if proc != nil {
		timeout := s.store.Get().Gateway.StopTimeout
		if stopErr := proc.Stop(ctx, timeout); stopErr != nil {
			err = fmt.Errorf("failed to stop gateway: %w", stopErr)
		}
	}
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	}

	s.setState(StateStopped, "", 0, false)
	return err
}

// Restart stops then starts the gateway. RestartCount is incremented even
// when the restart is user initiated, and the crash-loop guard is re-armed.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return ErrStartInProgress
	}
	s.restartCount++
	s.mu.Unlock()

	if err := s.Stop(ctx); err != nil {
		logging.Warn("stop during restart failed", "error", err)
	}
	return s.Start(ctx)
}
