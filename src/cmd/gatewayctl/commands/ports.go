package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/output"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
)

// PortsResult is the JSON output of the ports command.
type PortsResult struct {
	Reports []portmanager.PortReport `json:"reports"`
	// Unexpected counts listeners that are not the managed gateway.
	Unexpected int `json:"unexpected"`
}

// NewPortsCommand creates the ports command.
func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Show which processes listen on the gateway ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			c := newComponents(store)
			result, err := checkPorts(cmd.Context(), c.diag)
			if err != nil {
				return err
			}
			return output.Print(result, func() { printPorts(result) })
		},
	}
}

func checkPorts(ctx context.Context, diag *diagnostics.Controller) (PortsResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reports, err := diag.CheckPorts(ctx)
	if err != nil {
		return PortsResult{}, fmt.Errorf("port check failed: %w", err)
	}
	result := PortsResult{Reports: reports}
	for _, r := range reports {
		for _, l := range r.Listeners {
			if !l.Expected {
				result.Unexpected++
			}
		}
	}
	return result, nil
}

func printPorts(result PortsResult) {
	output.Section("🔌", "Gateway ports")
	for _, r := range result.Reports {
		if len(r.Listeners) == 0 {
			output.ItemSuccess("%s", r.Summary)
			continue
		}
		output.Item("%s", r.Summary)
		for _, l := range r.Listeners {
			label := output.Muted("expected")
			if !l.Expected {
				label = output.Highlight("unexpected")
			}
			output.Label(fmt.Sprintf("pid %d", l.PID), fmt.Sprintf("%s [%s]", l.FullCommandLine, label))
		}
	}
	if result.Unexpected > 0 {
		output.Newline()
		output.Warning("%s unexpected listener(s); stop them with 'gatewayctl kill <pid>'", output.Count(result.Unexpected))
	}
}
