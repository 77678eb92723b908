// Package commands provides the command-line interface for gatewayctl.
package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/metrics"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

// ConfigPath is the settings file selected with --config. Empty means the default.
var ConfigPath string

// components holds the objects shared by the commands of one invocation.
type components struct {
	store    *settings.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	diag     *diagnostics.Controller
}

// loadStore reads the settings file named by --config.
func loadStore() (*settings.Store, error) {
	path := ConfigPath
	if path == "" {
		path = settings.DefaultPath()
	}
	store, err := settings.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return store, nil
}

// newComponents wires the port inspector, terminator and diagnostics
// controller around store. Extra observers see port checks and kills
// alongside the metrics.
func newComponents(store *settings.Store, extra ...diagnostics.Observer) *components {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	inspector := portmanager.NewInspector(
		portmanager.DefaultSource(),
		portmanager.NewSystemResolver(portmanager.DefaultResolverTTL),
		func() portmanager.Classifier { return portmanager.ClassifierFromSettings(store.Get()) },
	)
	terminator := portmanager.NewTerminator(portmanager.DefaultGracePeriod)

	return &components{
		store:    store,
		registry: reg,
		metrics:  m,
		diag:     diagnostics.NewController(store, inspector, terminator, observerFor(m, extra)),
	}
}

func observerFor(m *metrics.Metrics, extra []diagnostics.Observer) diagnostics.Observer {
	if len(extra) == 0 {
		return m
	}
	return append(diagnostics.Observers{m}, extra...)
}
