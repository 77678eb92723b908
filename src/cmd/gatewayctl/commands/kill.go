package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/output"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
)

var killYes bool

// ErrConfirmationRequired is returned when an expected listener is targeted without --yes.
var ErrConfirmationRequired = errors.New("confirmation required")

// KillResult is the JSON output of the kill command.
type KillResult struct {
	Listener   portmanager.Listener `json:"listener"`
	Terminated bool                 `json:"terminated"`
	Confirmed  bool                 `json:"confirmed"`
}

// NewKillCommand creates the kill command.
func NewKillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill <pid>",
		Short: "Terminate a process listening on a gateway port",
		Long: `Terminates a listener found on one of the configured gateway ports.
Unexpected listeners are stopped immediately. Expected listeners (the managed
gateway, or the tunnel in attach-only mode) are only stopped when --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			store, err := loadStore()
			if err != nil {
				return err
			}
			c := newComponents(store)
			result, err := killListener(cmd.Context(), c.diag, pid, killYes)
			if err != nil {
				return err
			}
			return output.Print(result, func() {
				output.Success("Terminated %s (pid %d)", result.Listener.Command, result.Listener.PID)
			})
		},
	}
	cmd.Flags().BoolVarP(&killYes, "yes", "y", false, "Confirm termination of the expected gateway listener")
	return cmd
}

// killListener checks the ports, then requests termination of pid. An
// expected listener is confirmed only when yes is set.
func killListener(ctx context.Context, diag *diagnostics.Controller, pid int, yes bool) (KillResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := diag.CheckPorts(ctx); err != nil {
		return KillResult{}, fmt.Errorf("port check failed: %w", err)
	}

	ticket, err := diag.RequestKillPID(ctx, pid)
	if err != nil {
		return KillResult{}, err
	}
	result := KillResult{Listener: ticket.Listener}

	if ticket.Resolved() {
		if err := ticket.Wait(ctx); err != nil {
			return result, err
		}
		result.Terminated = true
		return result, nil
	}

	if !yes {
		diag.Cancel()
		return result, fmt.Errorf("%w: pid %d (%s) is an expected listener; re-run with --yes to terminate it",
			ErrConfirmationRequired, pid, ticket.Listener.Command)
	}
	if err := diag.Confirm(ctx, pid); err != nil {
		return result, err
	}
	result.Terminated = true
	result.Confirmed = true
	return result, nil
}
