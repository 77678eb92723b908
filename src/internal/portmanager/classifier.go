package portmanager

import (
	"path/filepath"
	"slices"

	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

// Classifier decides whether a listener belongs on a gateway port.
//
// In local mode the gateway itself is expected and anything else is not.
// In attach-only mode no local gateway should be running, so gateway
// processes are unexpected and only tunnel commands are expected.
type Classifier struct {
	GatewayName    string
	TunnelCommands []string
	AttachOnly     bool
}

// ClassifierFromSettings builds the classifier for the current settings.
func ClassifierFromSettings(s settings.Settings) Classifier {
	return Classifier{
		GatewayName:    s.GatewayProcessName(),
		TunnelCommands: slices.Clone(s.TunnelCommands),
		AttachOnly:     s.AttachOnly,
	}
}

// Expected reports whether command is an expected listener.
func (c Classifier) Expected(command string) bool {
	name := filepath.Base(command)
	if c.AttachOnly {
		return slices.Contains(c.TunnelCommands, name)
	}
	return c.GatewayName != "" && name == c.GatewayName
}
