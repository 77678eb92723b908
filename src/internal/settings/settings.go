// Package settings holds the process-wide configuration for gatewayctl.
//
// Settings are loaded once at startup from a YAML file, can be mutated at
// runtime through a Store, and are delivered to the supervisor and the
// diagnostics controller at construction. Changes are broadcast to
// subscribers instead of being read from shared globals.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPrimaryPort is the gateway's main listen port.
	DefaultPrimaryPort = 18789
	// DefaultSecondaryPort is the gateway's bridge port.
	DefaultSecondaryPort = 18790

	DefaultGatewayBinary   = "openclaw"
	DefaultLogMaxBytes     = 256 * 1024
	DefaultMaxFailures     = 5
	DefaultDashboardAddr   = "127.0.0.1:18800"
	DefaultChecksPerSecond = 2.0
	DefaultJournalEvents   = 10000

	// PortPlaceholder in gateway args is replaced with the primary port.
	PortPlaceholder = "{port}"

	// RunnerAuto launches the gateway through the project's package manager.
	RunnerAuto = "auto"
	// RunnerDirect launches the gateway binary from the augmented PATH.
	RunnerDirect = "direct"
)

// Settings is the full gatewayctl configuration.
type Settings struct {
	ProjectRoot    string            `yaml:"projectRoot" json:"projectRoot"`
	AttachOnly     bool              `yaml:"attachOnly" json:"attachOnly"`
	Ports          []int             `yaml:"ports" json:"ports"`
	TunnelCommands []string          `yaml:"tunnelCommands" json:"tunnelCommands"`
	Gateway        GatewaySettings   `yaml:"gateway" json:"gateway"`
	Restart        RestartSettings   `yaml:"restart" json:"restart"`
	Log            LogSettings       `yaml:"log" json:"log"`
	ConfigDocument string            `yaml:"configDocument" json:"configDocument"`
	SessionStore   string            `yaml:"sessionStore,omitempty" json:"sessionStore,omitempty"`
	Dashboard      DashboardSettings `yaml:"dashboard" json:"dashboard"`
	Journal        JournalSettings   `yaml:"journal" json:"journal"`
}

// GatewaySettings describes how the gateway process is launched and identified.
type GatewaySettings struct {
	Binary       string        `yaml:"binary" json:"binary"`
	ProcessName  string        `yaml:"processName,omitempty" json:"processName,omitempty"`
	Args         []string      `yaml:"args" json:"args"`
	Runner       string        `yaml:"runner" json:"runner"`
	StopTimeout  time.Duration `yaml:"stopTimeout" json:"stopTimeout"`
	ReadyTimeout time.Duration `yaml:"readyTimeout" json:"readyTimeout"`
	ProbeTimeout time.Duration `yaml:"probeTimeout" json:"probeTimeout"`
	// ProbeInterval is how often an attached gateway is re-probed.
	ProbeInterval time.Duration `yaml:"probeInterval" json:"probeInterval"`
}

// RestartSettings bounds automatic restarts.
type RestartSettings struct {
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures" json:"maxConsecutiveFailures"`
	InitialDelay           time.Duration `yaml:"initialDelay" json:"initialDelay"`
	MaxDelay               time.Duration `yaml:"maxDelay" json:"maxDelay"`
	StableAfter            time.Duration `yaml:"stableAfter" json:"stableAfter"`
}

// LogSettings bounds the in-memory gateway log.
type LogSettings struct {
	MaxBytes int `yaml:"maxBytes" json:"maxBytes"`
}

// DashboardSettings configures the local control panel server.
type DashboardSettings struct {
	Addr            string  `yaml:"addr" json:"addr"`
	ChecksPerSecond float64 `yaml:"checksPerSecond" json:"checksPerSecond"`
}

// JournalSettings configures the persistent event journal.
type JournalSettings struct {
	Path      string `yaml:"path" json:"path"`
	MaxEvents int    `yaml:"maxEvents" json:"maxEvents"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	s := Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills zero-valued fields.
func (s *Settings) ApplyDefaults() {
	if len(s.Ports) == 0 {
		s.Ports = []int{DefaultPrimaryPort, DefaultSecondaryPort}
	}
	if s.TunnelCommands == nil {
		s.TunnelCommands = []string{"ssh"}
	}
	if s.Gateway.Binary == "" {
		s.Gateway.Binary = DefaultGatewayBinary
	}
	if len(s.Gateway.Args) == 0 {
		s.Gateway.Args = []string{"gateway", "--port", PortPlaceholder}
	}
	if s.Gateway.Runner == "" {
		s.Gateway.Runner = RunnerAuto
	}
	if s.Gateway.StopTimeout <= 0 {
		s.Gateway.StopTimeout = 5 * time.Second
	}
	if s.Gateway.ReadyTimeout <= 0 {
		s.Gateway.ReadyTimeout = 30 * time.Second
	}
	if s.Gateway.ProbeTimeout <= 0 {
		s.Gateway.ProbeTimeout = 5 * time.Second
	}
	if s.Gateway.ProbeInterval <= 0 {
		s.Gateway.ProbeInterval = 10 * time.Second
	}
	if s.Restart.MaxConsecutiveFailures <= 0 {
		s.Restart.MaxConsecutiveFailures = DefaultMaxFailures
	}
	if s.Restart.InitialDelay <= 0 {
		s.Restart.InitialDelay = time.Second
	}
	if s.Restart.MaxDelay <= 0 {
		s.Restart.MaxDelay = 30 * time.Second
	}
	if s.Restart.StableAfter <= 0 {
		s.Restart.StableAfter = 10 * time.Second
	}
	if s.Log.MaxBytes <= 0 {
		s.Log.MaxBytes = DefaultLogMaxBytes
	}
	if s.ConfigDocument == "" {
		s.ConfigDocument = DefaultConfigDocumentPath()
	}
	if s.Dashboard.Addr == "" {
		s.Dashboard.Addr = DefaultDashboardAddr
	}
	if s.Dashboard.ChecksPerSecond <= 0 {
		s.Dashboard.ChecksPerSecond = DefaultChecksPerSecond
	}
	if s.Journal.Path == "" {
		s.Journal.Path = filepath.Join(DefaultDir(), "gatewayctl.db")
	}
	if s.Journal.MaxEvents <= 0 {
		s.Journal.MaxEvents = DefaultJournalEvents
	}
}

// Validate checks invariants that defaults cannot repair.
func (s Settings) Validate() error {
	if len(s.Ports) == 0 {
		return fmt.Errorf("at least one port must be configured")
	}
	seen := make(map[int]bool, len(s.Ports))
	for _, p := range s.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("port %d is outside valid range 1-65535", p)
		}
		if seen[p] {
			return fmt.Errorf("port %d is configured more than once", p)
		}
		seen[p] = true
	}
	switch s.Gateway.Runner {
	case RunnerAuto, RunnerDirect:
	default:
		return fmt.Errorf("invalid gateway runner %q (must be '%s' or '%s')", s.Gateway.Runner, RunnerAuto, RunnerDirect)
	}
	if s.Log.MaxBytes <= 0 {
		return fmt.Errorf("log.maxBytes must be positive")
	}
	return nil
}

// PrimaryPort returns the first configured port.
func (s Settings) PrimaryPort() int {
	if len(s.Ports) == 0 {
		return DefaultPrimaryPort
	}
	return s.Ports[0]
}

// GatewayProcessName is the command name a gateway listener is expected to have.
func (s Settings) GatewayProcessName() string {
	if s.Gateway.ProcessName != "" {
		return s.Gateway.ProcessName
	}
	return filepath.Base(s.Gateway.Binary)
}

// GatewayArgs returns the launch arguments with placeholders expanded.
func (s Settings) GatewayArgs() []string {
	args := make([]string, len(s.Gateway.Args))
	port := strconv.Itoa(s.PrimaryPort())
	for i, a := range s.Gateway.Args {
		args[i] = strings.ReplaceAll(a, PortPlaceholder, port)
	}
	return args
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.Ports = slices.Clone(s.Ports)
	c.TunnelCommands = slices.Clone(s.TunnelCommands)
	c.Gateway.Args = slices.Clone(s.Gateway.Args)
	return c
}

// DefaultDir returns the per-user state directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openclaw"
	}
	return filepath.Join(home, ".openclaw")
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "gatewayctl.yaml")
}

// DefaultConfigDocumentPath returns the gateway's JSON config location.
func DefaultConfigDocumentPath() string {
	return filepath.Join(DefaultDir(), "openclaw.json")
}
