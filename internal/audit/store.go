// Package audit keeps a persistent record of every command that changed,
// or tried to change, a daemon's state.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/router"
)

// Event represents a single audit log entry.
type Event struct {
	ID        int64          `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Caller    string         `json:"caller" yaml:"caller"`
	Action    string         `json:"action" yaml:"action"`
	Target    string         `json:"target" yaml:"target"`
	OK        bool           `json:"ok" yaml:"ok"`
	Failure   string         `json:"failure,omitempty" yaml:"failure,omitempty"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Since  time.Time
	Until  time.Time
	Target string
	Action string
	Limit  int
}

// Store provides persistent storage for audit events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	clock         clock.Clock
	retentionDays int
}

// NewStore opens (creating if needed) the audit database at dbPath and
// prunes entries older than retentionDays. A nil clock means the real one.
func NewStore(dbPath string, retentionDays int, clk clock.Clock) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	// Timestamps are unix nanoseconds so range queries compare numerically.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			caller TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL,
			ok INTEGER NOT NULL,
			failure TEXT,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_events(target);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}
	if clk == nil {
		clk = clock.Real()
	}

	s := &Store{db: db, clock: clk, retentionDays: retentionDays}
	if _, err := s.Prune(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Write persists an audit event. A zero Timestamp is stamped with the
// store's clock.
func (s *Store) Write(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}

	var details sql.NullString
	if len(evt.Details) > 0 {
		b, err := json.Marshal(evt.Details)
		if err != nil {
			b = []byte("{}")
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	var failure sql.NullString
	if evt.Failure != "" {
		failure = sql.NullString{String: evt.Failure, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (timestamp, caller, action, target, ok, failure, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.UnixNano(), evt.Caller, evt.Action, evt.Target, evt.OK, failure, details)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// RecordWrite stores the outcome of a dispatched write operation.
func (s *Store) RecordWrite(ctx context.Context, caller string, req router.Request, res dispatch.Result) error {
	evt := Event{
		Timestamp: res.At,
		Caller:    caller,
		Action:    string(req.Op),
		Target:    res.Target,
		OK:        res.OK,
		Failure:   string(res.Failure),
	}
	details := make(map[string]any)
	if req.Op == router.OpPushConfig {
		details["config"] = req.Config
	}
	if res.Source != "" {
		details["source"] = string(res.Source)
	}
	if res.Detail != "" {
		details["detail"] = res.Detail
	}
	if len(details) > 0 {
		evt.Details = details
	}
	return s.Write(ctx, evt)
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, f.Target)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}

	query := `SELECT id, timestamp, caller, action, target, ok, failure, details FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			evt     Event
			ts      int64
			failure sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Caller, &evt.Action, &evt.Target, &evt.OK, &failure, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.Timestamp = time.Unix(0, ts).UTC()
		evt.Failure = failure.String
		if details.Valid && details.String != "" {
			json.Unmarshal([]byte(details.String), &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of events in the store.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
