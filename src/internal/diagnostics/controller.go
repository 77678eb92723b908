// Package diagnostics implements the check-ports / kill-listener workflow
// with a confirmation gate for expected listeners.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

var (
	// ErrNoPendingKill is returned by Confirm when nothing awaits confirmation.
	ErrNoPendingKill = errors.New("no kill awaiting confirmation")
	// ErrPendingMismatch is returned by Confirm for a pid other than the pending one.
	ErrPendingMismatch = errors.New("confirmation does not match pending kill")
	// ErrKillSuperseded resolves a pending kill replaced by a newer request.
	ErrKillSuperseded = errors.New("kill request superseded")
	// ErrKillCancelled resolves a pending kill that was cancelled.
	ErrKillCancelled = errors.New("kill request cancelled")
	// ErrUnknownListener means the pid is not in the latest report.
	ErrUnknownListener = errors.New("pid is not listening on a configured port")
)

// Inspector reports the listeners on a port.
type Inspector interface {
	Inspect(ctx context.Context, port int) portmanager.PortReport
}

// Terminator stops a process.
type Terminator interface {
	Terminate(ctx context.Context, pid int) error
}

// Observer receives check and kill events, e.g. for metrics.
type Observer interface {
	ObservePortCheck(d time.Duration, reports []portmanager.PortReport)
	RecordKill(outcome string, listener portmanager.Listener)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) ObservePortCheck(d time.Duration, reports []portmanager.PortReport) {
	for _, obs := range o {
		obs.ObservePortCheck(d, reports)
	}
}

func (o Observers) RecordKill(outcome string, listener portmanager.Listener) {
	for _, obs := range o {
		obs.RecordKill(outcome, listener)
	}
}

// Kill outcomes passed to Observer.RecordKill.
const (
	OutcomeTerminated = "terminated"
	OutcomeFailed     = "failed"
	OutcomePending    = "pending"
	OutcomeCancelled  = "cancelled"
	OutcomeSuperseded = "superseded"
)

// Snapshot is a complete published port check.
type Snapshot struct {
	Reports   []portmanager.PortReport `json:"reports"`
	CheckedAt time.Time                `json:"checkedAt"`
	Pending   *portmanager.Listener    `json:"pending,omitempty"`
}

type pendingKill struct {
	listener portmanager.Listener
	ticket   *KillTicket
}

const snapshotSubscriberBuffer = 8

// Controller composes port inspection and termination.
type Controller struct {
	store      *settings.Store
	inspector  Inspector
	terminator Terminator
	observer   Observer

	mu           sync.Mutex
	checkSeq     uint64
	publishedSeq uint64
	reports      []portmanager.PortReport
	checkedAt    time.Time
	pending      *pendingKill
	subs         map[chan Snapshot]struct{}
}

// NewController creates a controller. observer may be nil.
func NewController(store *settings.Store, inspector Inspector, terminator Terminator, observer Observer) *Controller {
	return &Controller{
		store:      store,
		inspector:  inspector,
		terminator: terminator,
		observer:   observer,
		subs:       make(map[chan Snapshot]struct{}),
	}
}

// CheckPorts inspects every configured port concurrently and publishes the
// reports as one snapshot, sorted by port.
func (c *Controller) CheckPorts(ctx context.Context) ([]portmanager.PortReport, error) {
	ports := c.store.Get().Ports

	c.mu.Lock()
	c.checkSeq++
	seq := c.checkSeq
	c.mu.Unlock()

	start := time.Now()
	reports := make([]portmanager.PortReport, len(ports))
	g, gctx := errgroup.WithContext(ctx)
	for i, port := range ports {
		g.Go(func() error {
			reports[i] = c.inspector.Inspect(gctx, port)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(reports, func(a, b int) bool { return reports[a].Port < reports[b].Port })
	elapsed := time.Since(start)
	logging.Debug("port check complete", "ports", len(ports), "duration", elapsed)

	c.mu.Lock()
	// A slower, older check must not overwrite a newer snapshot.
	if seq > c.publishedSeq {
		c.publishedSeq = seq
		c.reports = reports
		c.checkedAt = time.Now()
		c.notifyLocked()
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObservePortCheck(elapsed, reports)
	}
	return cloneReports(reports), nil
}

// Reports returns the most recently published reports.
func (c *Controller) Reports() []portmanager.PortReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneReports(c.reports)
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{Reports: cloneReports(c.reports), CheckedAt: c.checkedAt}
	if c.pending != nil {
		l := c.pending.listener
		snap.Pending = &l
	}
	return snap
}

// Lookup finds a listener by pid in the latest reports.
func (c *Controller) Lookup(pid int) (portmanager.Listener, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.reports {
		for _, l := range r.Listeners {
			if l.PID == pid {
				return l, true
			}
		}
	}
	return portmanager.Listener{}, false
}

// RequestKill terminates an unexpected listener immediately. An expected
// listener becomes the pending kill, replacing any earlier pending request,
// and is only terminated by a matching Confirm.
//
// For an immediate kill the returned ticket is already resolved and the
// termination error is also returned.
func (c *Controller) RequestKill(ctx context.Context, listener portmanager.Listener) (*KillTicket, error) {
	ticket := newKillTicket(listener)

	if !listener.Expected {
		err := c.terminate(ctx, listener)
		ticket.resolve(err)
		return ticket, err
	}

	c.mu.Lock()
	previous := c.pending
	c.pending = &pendingKill{listener: listener, ticket: ticket}
	c.notifyLocked()
	c.mu.Unlock()

	if previous != nil {
		previous.ticket.resolve(ErrKillSuperseded)
		c.record(OutcomeSuperseded, previous.listener)
		logging.Info("pending kill superseded", "previousPid", previous.listener.PID, "pid", listener.PID)
	}
	c.record(OutcomePending, listener)
	logging.Info("kill awaiting confirmation", "pid", listener.PID, "command", listener.Command)
	return ticket, nil
}

// RequestKillPID looks pid up in the latest reports and requests its kill
// with the server-side classification.
func (c *Controller) RequestKillPID(ctx context.Context, pid int) (*KillTicket, error) {
	listener, ok := c.Lookup(pid)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownListener, pid)
	}
	return c.RequestKill(ctx, listener)
}

// Confirm terminates the pending listener if pid matches it. A different pid
// leaves the pending request untouched. Failures are returned, not retried.
func (c *Controller) Confirm(ctx context.Context, pid int) error {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return ErrNoPendingKill
	}
	if p.listener.PID != pid {
		c.mu.Unlock()
		return fmt.Errorf("%w: pending pid %d, got %d", ErrPendingMismatch, p.listener.PID, pid)
	}
	c.pending = nil
	c.notifyLocked()
	c.mu.Unlock()

	err := c.terminate(ctx, p.listener)
	p.ticket.resolve(err)
	return err
}

// Cancel abandons the pending kill. It reports whether one existed.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	if p != nil {
		c.notifyLocked()
	}
	c.mu.Unlock()

	if p == nil {
		return false
	}
	p.ticket.resolve(ErrKillCancelled)
	c.record(OutcomeCancelled, p.listener)
	logging.Info("pending kill cancelled", "pid", p.listener.PID)
	return true
}

// Pending returns the listener awaiting confirmation.
func (c *Controller) Pending() (portmanager.Listener, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return portmanager.Listener{}, false
	}
	return c.pending.listener, true
}

// terminate kills the listener and refreshes the reports on success.
func (c *Controller) terminate(ctx context.Context, listener portmanager.Listener) error {
	if err := c.terminator.Terminate(ctx, listener.PID); err != nil {
		c.record(OutcomeFailed, listener)
		logging.Error("failed to terminate listener", "pid", listener.PID, "error", err)
		return err
	}
	c.record(OutcomeTerminated, listener)
	logging.Info("terminated listener", "pid", listener.PID, "command", listener.Command)

	if _, err := c.CheckPorts(ctx); err != nil {
		logging.Warn("port refresh after kill failed", "error", err)
	}
	return nil
}

func (c *Controller) record(outcome string, listener portmanager.Listener) {
	if c.observer != nil {
		c.observer.RecordKill(outcome, listener)
	}
}

// Subscribe returns a channel receiving every published snapshot and every
// change of the pending kill. Slow subscribers only see the latest snapshot.
func (c *Controller) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, snapshotSubscriberBuffer)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (c *Controller) Unsubscribe(ch chan Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

func (c *Controller) notifyLocked() {
	snap := c.snapshotLocked()
	for ch := range c.subs {
		for {
			select {
			case ch <- snap:
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

func cloneReports(reports []portmanager.PortReport) []portmanager.PortReport {
	if reports == nil {
		return nil
	}
	out := make([]portmanager.PortReport, len(reports))
	for i, r := range reports {
		out[i] = r
		out[i].Listeners = slices.Clone(r.Listeners)
	}
	return out
}
