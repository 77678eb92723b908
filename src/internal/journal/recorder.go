package journal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
)

const writeTimeout = 2 * time.Second

// Recorder turns supervisor and diagnostics events into journal rows.
// Write failures are logged and never reach the caller.
type Recorder struct {
	journal *Journal

	mu         sync.Mutex
	unexpected map[int]bool
	lastState  service.State
}

// NewRecorder creates a recorder writing to j.
func NewRecorder(j *Journal) *Recorder {
	return &Recorder{journal: j, unexpected: make(map[int]bool)}
}

func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.journal.Record(ctx, ev); err != nil {
		logging.Warn("journal write failed", "kind", string(ev.Kind), "error", err)
	}
}

// ObservePortCheck records unexpected listeners the first time they are seen.
func (r *Recorder) ObservePortCheck(_ time.Duration, reports []portmanager.PortReport) {
	current := make(map[int]bool)
	var fresh []Event

	r.mu.Lock()
	for _, report := range reports {
		for _, l := range report.Listeners {
			if l.Expected {
				continue
			}
			current[l.PID] = true
			if !r.unexpected[l.PID] {
				fresh = append(fresh, Event{
					Kind:    KindListener,
					PID:     l.PID,
					Command: l.Command,
					Port:    report.Port,
					Detail:  l.FullCommandLine,
				})
			}
		}
	}
	r.unexpected = current
	r.mu.Unlock()

	for _, ev := range fresh {
		r.write(ev)
	}
}

// RecordKill records a kill request outcome.
func (r *Recorder) RecordKill(outcome string, l portmanager.Listener) {
	detail := "unexpected listener"
	if l.Expected {
		detail = "expected listener"
	}
	r.write(Event{Kind: KindKill, PID: l.PID, Command: l.Command, Outcome: outcome, Detail: detail})
}

// RecordStatus records st if its state differs from the last recorded one.
func (r *Recorder) RecordStatus(st service.Status) {
	r.mu.Lock()
	if st.State == r.lastState {
		r.mu.Unlock()
		return
	}
	r.lastState = st.State
	r.mu.Unlock()

	detail := st.Reason
	if st.Attached {
		detail = strings.TrimSpace("attached " + detail)
	}
	r.write(Event{Kind: KindState, State: string(st.State), PID: st.PID, Detail: detail})
}

// Follow records every status from statuses until ctx ends or the channel closes.
func (r *Recorder) Follow(ctx context.Context, statuses <-chan service.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-statuses:
			if !ok {
				return
			}
			r.RecordStatus(st)
		}
	}
}
