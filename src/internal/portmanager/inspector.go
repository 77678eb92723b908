package portmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// Inspector produces PortReports.
type Inspector struct {
	source     ListenerSource
	resolver   ProcessResolver
	classifier func() Classifier
}

// NewInspector creates an inspector. classifier is called on every Inspect
// so mode changes apply to the next check.
func NewInspector(source ListenerSource, resolver ProcessResolver, classifier func() Classifier) *Inspector {
	if source == nil {
		source = DefaultSource()
	}
	if resolver == nil {
		resolver = NewSystemResolver(DefaultResolverTTL)
	}
	return &Inspector{source: source, resolver: resolver, classifier: classifier}
}

// Inspect reports the listeners on port. It never fails: query problems are
// described in the summary of an empty report.
func (i *Inspector) Inspect(ctx context.Context, port int) PortReport {
	report := PortReport{Port: port, Listeners: []Listener{}}

	pids, err := i.source.ListenerPIDs(ctx, port)
	if err != nil {
		logging.Debug("port query failed", "port", port, "error", err)
		if errors.Is(err, ErrPortQueryUnavailable) {
			report.Summary = fmt.Sprintf("Port %d: check unavailable (%v)", port, err)
		} else {
			report.Summary = fmt.Sprintf("Port %d: check failed (%v)", port, err)
		}
		return report
	}

	var classifier Classifier
	if i.classifier != nil {
		classifier = i.classifier()
	}

	seen := make(map[int]bool, len(pids))
	for _, pid := range pids {
		if seen[pid] {
			continue
		}
		seen[pid] = true

		info, err := i.resolver.Resolve(ctx, pid)
		if err != nil {
			if errors.Is(err, ErrNoSuchProcess) {
				continue
			}
			logging.Debug("failed to resolve listener", "port", port, "pid", pid, "error", err)
			info = ProcessInfo{Name: "unknown"}
		}
		report.Listeners = append(report.Listeners, Listener{
			PID:             pid,
			Command:         info.Name,
			FullCommandLine: info.CommandLine,
			Expected:        classifier.Expected(info.Name),
		})
	}

	report.Summary = summarize(port, report.Listeners)
	return report
}

func summarize(port int, listeners []Listener) string {
	if len(listeners) == 0 {
		return fmt.Sprintf("Port %d is free", port)
	}

	parts := make([]string, len(listeners))
	unexpected := 0
	for i, l := range listeners {
		parts[i] = fmt.Sprintf("%s (pid %d)", l.Command, l.PID)
		if !l.Expected {
			unexpected++
		}
	}

	s := fmt.Sprintf("Port %d is in use by %s", port, strings.Join(parts, ", "))
	switch {
	case unexpected == 0:
		s += "; expected"
	case unexpected == len(listeners):
		s += "; unexpected"
	default:
		s += fmt.Sprintf("; %d unexpected", unexpected)
	}
	return s
}
