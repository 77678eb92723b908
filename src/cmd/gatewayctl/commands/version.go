package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/internal/output"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// BuildTime is set at build time with -ldflags.
var BuildTime = "unknown"

// VersionResult is the JSON output of the version command.
type VersionResult struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	Go        string `json:"go"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := VersionResult{Version: Version, BuildTime: BuildTime, Go: runtime.Version()}
			return output.Print(result, func() {
				output.Info("gatewayctl %s", output.Emphasize("%s", result.Version))
				output.Label("Built", result.BuildTime)
				output.Label("Go", result.Go)
			})
		},
	}
}
