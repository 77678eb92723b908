package diagnostics

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
)

// KillTicket tracks one kill request until it is terminated, fails, is
// cancelled or is superseded.
type KillTicket struct {
	ID       string               `json:"id"`
	Listener portmanager.Listener `json:"listener"`

	done chan struct{}
	once sync.Once
	err  error
}

func newKillTicket(l portmanager.Listener) *KillTicket {
	return &KillTicket{ID: uuid.NewString(), Listener: l, done: make(chan struct{})}
}

func (t *KillTicket) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed once the request is resolved.
func (t *KillTicket) Done() <-chan struct{} {
	return t.done
}

// Resolved reports whether the request has completed.
func (t *KillTicket) Resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request is resolved and returns its result: nil
// when the process was terminated (or was already gone).
func (t *KillTicket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
