package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ssalihsrz/openclaw/src/internal/dashboard"
	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/journal"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/metrics"
	"github.com/ssalihsrz/openclaw/src/internal/output"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

const shutdownTimeout = 10 * time.Second

var (
	runNoDashboard bool
	runAddr        string
	runAttachOnly  bool
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and supervise the gateway, serving the control panel",
		Long: `Starts the gateway (or attaches to a running one in attach-only mode),
restarts it after unexpected exits and serves the local control panel until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			var o settings.Overrides
			if cmd.Flags().Changed("attach-only") {
				attach := runAttachOnly
				o.AttachOnly = &attach
			}
			o.DashboardAddr = runAddr
			if _, err := store.SetOverrides(o); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, store, !runNoDashboard)
		},
	}

	cmd.Flags().BoolVar(&runNoDashboard, "no-dashboard", false, "Do not serve the control panel")
	cmd.Flags().StringVar(&runAddr, "addr", "", "Control panel listen address (overrides settings)")
	cmd.Flags().BoolVar(&runAttachOnly, "attach-only", false, "Only attach to an already running gateway")
	return cmd
}

// runGateway supervises the gateway until ctx is cancelled.
func runGateway(ctx context.Context, store *settings.Store, serveDashboard bool) error {
	cfg := store.Get()
	var (
		recorder  *journal.Recorder
		observers []diagnostics.Observer
		panelOpts []dashboard.Option
	)
	if events := openJournal(cfg); events != nil {
		defer func() { _ = events.Close() }()
		recorder = journal.NewRecorder(events)
		observers = append(observers, recorder)
		panelOpts = append(panelOpts, dashboard.WithEvents(events))
	}

	c := newComponents(store, observers...)
	sup := service.New(store)
	defer func() { _ = store.Close() }()

	if err := store.Watch(ctx); err != nil {
		logging.Warn("settings watch unavailable", "error", err)
	}

	var panel *dashboard.Server
	if serveDashboard {
		panel = dashboard.New(store, sup, c.diag, c.registry, panelOpts...)
		url, err := panel.Start(store.Get().Dashboard.Addr)
		if err != nil {
			return err
		}
		output.PrintDefault(func() {
			output.Label("Dashboard", output.URL(url))
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		observeStatus(gctx, sup, c.metrics)
		return nil
	})
	g.Go(func() error {
		watchSettings(gctx, store, c.diag.CheckPorts)
		return nil
	})
	if recorder != nil {
		statuses := sup.Subscribe()
		g.Go(func() error {
			defer sup.Unsubscribe(statuses)
			recorder.Follow(gctx, statuses)
			return nil
		})
	}

	cfg = store.Get()
	if err := sup.Start(ctx); err != nil {
		// Failed is a visible state; keep serving so the user can fix and restart.
		logging.Error("gateway start failed", "error", err)
		output.PrintDefault(func() { output.Error("Gateway start failed: %v", err) })
	} else {
		output.PrintDefault(func() {
			output.Success("Gateway %s on port %d", sup.Status().State, cfg.PrimaryPort())
		})
	}

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := sup.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if panel != nil {
		if err := panel.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dashboard: %w", err))
		}
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// openJournal opens the event journal, or returns nil when it cannot be
// opened. Supervision does not depend on it.
func openJournal(cfg settings.Settings) *journal.Journal {
	events, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEvents)
	if err != nil {
		logging.Warn("event journal unavailable, running without it", "path", cfg.Journal.Path, "error", err)
		return nil
	}
	return events
}

// observeStatus mirrors supervisor state into metrics.
func observeStatus(ctx context.Context, sup *service.Supervisor, m *metrics.Metrics) {
	statuses := sup.Subscribe()
	defer sup.Unsubscribe(statuses)
	logs := sup.Log().Subscribe()
	defer sup.Log().Unsubscribe(logs)

	m.ObserveStatus(sup.Status())
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-statuses:
			if !ok {
				return
			}
			m.ObserveStatus(st)
			logging.Debug("gateway state", "state", string(st.State), "pid", st.PID, "reason", st.Reason)
		case _, ok := <-logs:
			if !ok {
				return
			}
			m.ObserveLogSize(sup.Log().Size())
		}
	}
}

// watchSettings re-runs the port check when settings change, since the
// attach-only flag and port list affect classification.
func watchSettings(ctx context.Context, store *settings.Store, check func(context.Context) ([]portmanager.PortReport, error)) {
	changes := store.Subscribe()
	defer store.Unsubscribe(changes)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if _, err := check(ctx); err != nil && ctx.Err() == nil {
				logging.Warn("port check after settings change failed", "error", err)
			}
		}
	}
}
