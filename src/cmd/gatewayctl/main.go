package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/cmd/gatewayctl/commands"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/output"
)

var (
	outputFormat   string
	debugMode      bool
	structuredLogs bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "gatewayctl",
		Short:        "gatewayctl - Supervise the local OpenClaw gateway",
		Long:         `gatewayctl starts and supervises the local OpenClaw gateway, diagnoses processes holding its ports and edits its configuration.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetupLogger(debugMode, structuredLogs)

			if debugMode {
				logging.Debug("Starting gatewayctl",
					"version", commands.Version,
					"command", cmd.Name(),
					"args", args,
				)
			}

			return output.SetFormat(outputFormat)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default, json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&structuredLogs, "structured-logs", false, "Enable structured JSON logging to stderr")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Settings file (default ~/.openclaw/gatewayctl.yaml)")

	rootCmd.AddCommand(
		commands.NewRunCommand(),
		commands.NewStatusCommand(),
		commands.NewPortsCommand(),
		commands.NewKillCommand(),
		commands.NewConfigCommand(),
		commands.NewEventsCommand(),
		commands.NewVersionCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
