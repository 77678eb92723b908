package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/internal/output"
	"github.com/ssalihsrz/openclaw/src/internal/service"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

const statusRequestTimeout = 2 * time.Second

// StatusResult is the JSON output of the status command.
type StatusResult struct {
	// Supervised is set when a running gatewayctl answered on the dashboard address.
	Supervised bool            `json:"supervised"`
	Status     *service.Status `json:"status,omitempty"`
	Port       int             `json:"port"`
	Listening  bool            `json:"listening"`
	AttachOnly bool            `json:"attachOnly"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			result := gatewayStatus(cmd.Context(), store.Get(), http.DefaultClient)
			return output.Print(result, func() { printStatus(result) })
		},
	}
}

// gatewayStatus asks a running supervisor first and falls back to probing
// the primary port.
func gatewayStatus(ctx context.Context, cfg settings.Settings, client *http.Client) StatusResult {
	if ctx == nil {
		ctx = context.Background()
	}
	result := StatusResult{Port: cfg.PrimaryPort(), AttachOnly: cfg.AttachOnly}

	if st, err := fetchStatus(ctx, client, "http://"+cfg.Dashboard.Addr+"/api/status"); err == nil {
		result.Supervised = true
		result.Status = &st
	}
	result.Listening = service.IsPortListening(result.Port)
	return result
}

func fetchStatus(ctx context.Context, client *http.Client, url string) (service.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, statusRequestTimeout)
	defer cancel()

	var st service.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return st, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("invalid status response: %w", err)
	}
	return st, nil
}

func printStatus(result StatusResult) {
	output.Section("🦞", "Gateway")
	if result.Status != nil {
		output.Label("State", string(result.Status.State))
		if result.Status.PID > 0 {
			output.Label("PID", fmt.Sprintf("%d", result.Status.PID))
		}
		output.Label("Restarts", output.Count(result.Status.RestartCount))
		if result.Status.Reason != "" {
			output.Label("Reason", result.Status.Reason)
		}
	} else {
		output.Label("Supervisor", output.Muted("not running"))
	}

	listening := "free"
	if result.Listening {
		listening = "listening"
	}
	output.Label("Port", fmt.Sprintf("%d (%s)", result.Port, listening))
	output.Label("Attach-only", fmt.Sprintf("%t", result.AttachOnly))
}
