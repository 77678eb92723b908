package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/internal/configpatch"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/output"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

// SessionStoreResult is the JSON output of the config commands.
type SessionStoreResult struct {
	Path     string `json:"path"`
	Document string `json:"document"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Edit the gateway configuration document",
	}
	cmd.AddCommand(newSetSessionStoreCommand(), newGetSessionStoreCommand())
	return cmd
}

func newSetSessionStoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-session-store <path>",
		Short: "Set the gateway session store location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			result, err := setSessionStore(store, args[0])
			if err != nil {
				return err
			}
			return output.Print(result, func() {
				output.Success("Session store set to %s", output.Highlight("%s", result.Path))
				output.Label("Document", result.Document)
			})
		},
	}
}

func newGetSessionStoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-session-store",
		Short: "Show the gateway session store location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			doc := store.Get().ConfigDocument
			value, err := configpatch.SessionStore(doc)
			if err != nil {
				return err
			}
			result := SessionStoreResult{Path: value, Document: doc}
			return output.Print(result, func() {
				if value == "" {
					output.Info("No session store configured in %s", doc)
					return
				}
				output.Info("%s", value)
			})
		},
	}
}

// setSessionStore records path in the settings file, then in the config
// document. The settings keep the value even if the document write fails.
func setSessionStore(store *settings.Store, path string) (SessionStoreResult, error) {
	cfg, err := store.Update(func(s *settings.Settings) { s.SessionStore = path })
	if err != nil {
		return SessionStoreResult{}, err
	}
	if err := store.Save(); err != nil {
		logging.Warn("failed to persist settings", "error", err)
	}

	result := SessionStoreResult{Path: path, Document: cfg.ConfigDocument}
	if err := configpatch.SetSessionStore(cfg.ConfigDocument, path); err != nil {
		return result, fmt.Errorf("failed to update %s: %w", cfg.ConfigDocument, err)
	}
	return result, nil
}
