package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssalihsrz/openclaw/src/internal/journal"
	"github.com/ssalihsrz/openclaw/src/internal/output"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

var (
	eventsLimit int
	eventsKind  string
)

// EventsResult is the JSON output of the events command.
type EventsResult struct {
	Events []journal.Event `json:"events"`
	Total  int             `json:"total"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded gateway state changes and kill outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			result, err := listEvents(cmd.Context(), store.Get(), eventsLimit, journal.Kind(eventsKind))
			if err != nil {
				return err
			}
			return output.Print(result, func() { printEvents(result) })
		},
	}

	cmd.Flags().IntVar(&eventsLimit, "limit", 20, "Maximum number of events to show")
	cmd.Flags().StringVar(&eventsKind, "kind", "", "Only show events of this kind (state, kill, listener)")
	return cmd
}

func listEvents(ctx context.Context, cfg settings.Settings, limit int, kind journal.Kind) (EventsResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch kind {
	case "", journal.KindState, journal.KindKill, journal.KindListener:
	default:
		return EventsResult{}, fmt.Errorf("unknown event kind %q", kind)
	}

	j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEvents)
	if err != nil {
		return EventsResult{}, err
	}
	defer func() { _ = j.Close() }()

	events, err := j.Recent(ctx, limit, kind)
	if err != nil {
		return EventsResult{}, err
	}
	total, err := j.Count(ctx)
	if err != nil {
		return EventsResult{}, err
	}
	return EventsResult{Events: events, Total: total}, nil
}

func printEvents(result EventsResult) {
	output.Section("📜", fmt.Sprintf("Gateway events (%d of %s recorded)", len(result.Events), output.Count(result.Total)))
	if len(result.Events) == 0 {
		output.Item("%s", output.Muted("no events recorded"))
		return
	}
	for _, ev := range result.Events {
		when := ev.Time.Local().Format(time.DateTime)
		switch ev.Kind {
		case journal.KindState:
			output.Label(when, fmt.Sprintf("%s %s", output.Emphasize("%s", ev.State), output.Muted("%s", ev.Detail)))
		case journal.KindKill:
			output.Label(when, fmt.Sprintf("kill pid %d (%s): %s", ev.PID, ev.Command, ev.Outcome))
		default:
			output.Label(when, fmt.Sprintf("pid %d (%s) on port %d %s", ev.PID, ev.Command, ev.Port, output.Muted("%s", ev.Detail)))
		}
	}
}
