// Package journal records service lifecycle events in a local SQLite
// database so operators can audit what the supervisor did and when.
package journal

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Event is one recorded lifecycle operation.
type Event struct {
	ID      string    `json:"id"`
	Service string    `json:"service"`
	Op      string    `json:"op"`      // start, stop, restart
	Outcome string    `json:"outcome"` // started, stopped, stopped-forcefully, not-running, already-running, failed
	PID     int       `json:"pid,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Journal is an append-only event log backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			service  TEXT NOT NULL,
			op       TEXT NOT NULL,
			outcome  TEXT NOT NULL,
			pid      INTEGER NOT NULL DEFAULT 0,
			detail   TEXT NOT NULL DEFAULT '',
			at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_service ON events(service, event_id);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one event. The ID and timestamp are filled in here;
// ULIDs keep events globally sortable by creation time.
func (j *Journal) Record(ev Event) (string, error) {
	ev.ID = "evt_" + generateULID()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	_, err := j.db.Exec(
		`INSERT INTO events (event_id, service, op, outcome, pid, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Service, ev.Op, ev.Outcome, ev.PID, ev.Detail, ev.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("record event: %w", err)
	}

	return ev.ID, nil
}

// Recent returns up to limit events, newest first. An empty service
// matches all services.
func (j *Journal) Recent(service string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT event_id, service, op, outcome, pid, detail, at FROM events`
	args := []any{}
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, service)
	}
	// ULIDs sort lexicographically by creation time
	query += ` ORDER BY event_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		var at string
		if err := rows.Scan(&ev.ID, &ev.Service, &ev.Op, &ev.Outcome, &ev.PID, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			ev.At = t
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a ULID string.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}
