// Package journal persists gateway lifecycle and port diagnostics events in
// a local SQLite database so they survive gatewayctl restarts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Kind classifies an event.
type Kind string

const (
	// KindState is a gateway lifecycle transition.
	KindState Kind = "state"
	// KindKill is the outcome of a kill request.
	KindKill Kind = "kill"
	// KindListener is an unexpected listener first seen on a gateway port.
	KindListener Kind = "listener"
)

// DefaultMaxEvents bounds the journal when settings leave it unset.
const DefaultMaxEvents = 10000

// pruneEvery is how many inserts happen between prunes.
const pruneEvery = 100

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal closed")

// Event is one journal row.
type Event struct {
	ID      int64     `json:"id"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	State   string    `json:"state,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Command string    `json:"command,omitempty"`
	Port    int       `json:"port,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Journal is an append-only event log with a size cap.
type Journal struct {
	db        *sql.DB
	maxEvents int

	mu      sync.Mutex
	inserts int
	closed  bool
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string, maxEvents int) (*Journal, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, maxEvents: maxEvents}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			at INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			command TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	if _, err := j.db.Exec("CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Record appends ev. A zero Time is set to now.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.inserts++
	prune := j.inserts%pruneEvery == 0
	j.mu.Unlock()

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (kind, at, state, pid, command, port, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.Kind), ev.Time.UnixMilli(), ev.State, ev.PID, ev.Command, ev.Port, ev.Outcome, ev.Detail)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	if prune {
		return j.Prune(ctx)
	}
	return nil
}

// Prune drops the oldest events beyond the size cap.
func (j *Journal) Prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
		DELETE FROM events WHERE id <= (
			SELECT id FROM events ORDER BY id DESC LIMIT 1 OFFSET ?
		)
	`, j.maxEvents)
	if err != nil {
		return fmt.Errorf("failed to prune journal: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. kind filters when non-empty.
func (j *Journal) Recent(ctx context.Context, limit int, kind Kind) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, kind, at, state, pid, command, port, outcome, detail FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev   Event
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.ID, &kind, &at, &ev.State, &ev.PID, &ev.Command, &ev.Port, &ev.Outcome, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.Time = time.UnixMilli(at)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	return j.db.Close()
}
