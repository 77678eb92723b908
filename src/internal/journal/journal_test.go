package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
)

func openMemory(t *testing.T, maxEvents int) *Journal {
	t.Helper()
	j, err := Open(":memory:", maxEvents)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openMemory(t, 0)
	ctx := context.Background()

	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, j.Record(ctx, Event{Kind: KindState, State: "running", PID: 42, Time: at}))
	require.NoError(t, j.Record(ctx, Event{Kind: KindKill, PID: 7, Command: "python3", Outcome: "terminated"}))

	events, err := j.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindKill, events[0].Kind, "newest first")
	assert.Equal(t, "python3", events[0].Command)
	assert.False(t, events[0].Time.IsZero())

	assert.Equal(t, KindState, events[1].Kind)
	assert.Equal(t, "running", events[1].State)
	assert.Equal(t, 42, events[1].PID)
	assert.True(t, at.Equal(events[1].Time))
}

func TestRecent_FilterByKind(t *testing.T) {
	j := openMemory(t, 0)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Event{Kind: KindState, State: "starting"}))
	require.NoError(t, j.Record(ctx, Event{Kind: KindKill, Outcome: "pending"}))
	require.NoError(t, j.Record(ctx, Event{Kind: KindState, State: "running"}))

	events, err := j.Recent(ctx, 10, KindState)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "running", events[0].State)
	assert.Equal(t, "starting", events[1].State)

	events, err = j.Recent(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "running", events[0].State)
}

func TestPrune_KeepsNewest(t *testing.T) {
	j := openMemory(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, j.Record(ctx, Event{Kind: KindState, PID: i}))
	}
	require.NoError(t, j.Prune(ctx))

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	events, err := j.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, 11, events[0].PID)
	assert.Equal(t, 7, events[4].PID)
}

func TestOpen_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "gatewayctl.db")
	ctx := context.Background()

	j, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Event{Kind: KindState, State: "failed", Detail: "crash loop"}))
	require.NoError(t, j.Close())

	j, err = Open(path, 0)
	require.NoError(t, err)
	defer j.Close()

	events, err := j.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "crash loop", events[0].Detail)
}

func TestRecord_AfterClose(t *testing.T) {
	j, err := Open(":memory:", 0)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Record(context.Background(), Event{Kind: KindState}), ErrClosed)
}

func TestRecorder_ListenersRecordedOnce(t *testing.T) {
	j := openMemory(t, 0)
	r := NewRecorder(j)
	ctx := context.Background()

	reports := []portmanager.PortReport{{
		Port: 18789,
		Listeners: []portmanager.Listener{
			{PID: 1, Command: "openclaw", Expected: true},
			{PID: 2, Command: "python3", FullCommandLine: "python3 -m http.server"},
		},
	}}
	r.ObservePortCheck(time.Millisecond, reports)
	r.ObservePortCheck(time.Millisecond, reports)

	events, err := j.Recent(ctx, 10, KindListener)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].PID)
	assert.Equal(t, 18789, events[0].Port)
	assert.Equal(t, "python3 -m http.server", events[0].Detail)

	// Gone, then back: recorded again.
	r.ObservePortCheck(time.Millisecond, nil)
	r.ObservePortCheck(time.Millisecond, reports)
	events, err = j.Recent(ctx, 10, KindListener)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRecorder_KillAndStatus(t *testing.T) {
	j := openMemory(t, 0)
	r := NewRecorder(j)
	ctx := context.Background()

	r.RecordKill("pending", portmanager.Listener{PID: 9, Command: "openclaw", Expected: true})
	r.RecordStatus(service.Status{State: service.StateRunning, PID: 9})
	r.RecordStatus(service.Status{State: service.StateRunning, PID: 9})
	r.RecordStatus(service.Status{State: service.StateRunning, Attached: true})
	r.RecordStatus(service.Status{State: service.StateFailed, Reason: "crash loop"})

	kills, err := j.Recent(ctx, 10, KindKill)
	require.NoError(t, err)
	require.Len(t, kills, 1)
	assert.Equal(t, "pending", kills[0].Outcome)
	assert.Equal(t, "expected listener", kills[0].Detail)

	states, err := j.Recent(ctx, 10, KindState)
	require.NoError(t, err)
	require.Len(t, states, 2, "repeated states are collapsed")
	assert.Equal(t, "failed", states[0].State)
	assert.Equal(t, "crash loop", states[0].Detail)
}

func TestRecorder_Follow(t *testing.T) {
	j := openMemory(t, 0)
	r := NewRecorder(j)

	statuses := make(chan service.Status, 2)
	statuses <- service.Status{State: service.StateStarting}
	statuses <- service.Status{State: service.StateRunning}
	close(statuses)

	r.Follow(context.Background(), statuses)

	events, err := j.Recent(context.Background(), 10, KindState)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "running", events[0].State)
}
