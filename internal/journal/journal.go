// Package journal records executed schedules in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

const schemaExecutions = `
CREATE TABLE IF NOT EXISTS executions (
    schedule_id TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    temperature INTEGER,
    due_at TEXT NOT NULL,
    executed_at TEXT NOT NULL
);
`

const schemaExecutedAtIndex = `CREATE INDEX IF NOT EXISTS executions_executed_at ON executions (executed_at);`

// Entry is one executed schedule.
type Entry struct {
	ScheduleID  string          `json:"scheduleId"`
	Action      schedule.Action `json:"action"`
	Temperature *int            `json:"temperature,omitempty"`
	DueAt       time.Time       `json:"dueAt"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path. Use ":memory:" for a journal that isn't persisted.
func Open(path string) (*Journal, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// a single connection: writes are serialized and an in-memory database is shared by all queries
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if err = ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New returns a Journal for an open database that already holds the schema.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaExecutions, schemaExecutedAtIndex} {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Applied returns true if the schedule with the given id has been recorded.
func (j *Journal) Applied(ctx context.Context, id string) (bool, error) {
	var count int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE schedule_id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("applied %s: %w", id, err)
	}
	return count > 0, nil
}

// Record adds an executed schedule. Recording the same schedule twice keeps the first entry.
func (j *Journal) Record(ctx context.Context, s schedule.Schedule, executedAt time.Time) error {
	var temperature sql.NullInt64
	if s.TargetTemperature != nil {
		temperature = sql.NullInt64{Int64: int64(*s.TargetTemperature), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO executions (schedule_id, action, temperature, due_at, executed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (schedule_id) DO NOTHING
	`,
		s.ID,
		string(s.Action),
		temperature,
		s.DueAt.UTC().Format(time.RFC3339Nano),
		executedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns the last limit executions, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT schedule_id, action, temperature, due_at, executed_at
		FROM executions
		ORDER BY executed_at DESC, schedule_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry                Entry
			action               string
			temperature          sql.NullInt64
			dueAt, executedAtStr string
		)
		if err = rows.Scan(&entry.ScheduleID, &action, &temperature, &dueAt, &executedAtStr); err != nil {
			return nil, fmt.Errorf("recent: %w", err)
		}
		entry.Action = schedule.Action(action)
		if temperature.Valid {
			t := int(temperature.Int64)
			entry.Temperature = &t
		}
		if entry.DueAt, err = parseTime(dueAt); err == nil {
			entry.ExecutedAt, err = parseTime(executedAtStr)
		}
		if err != nil {
			return nil, fmt.Errorf("recent: %s: %w", entry.ScheduleID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

var errInvalidTimestamp = errors.New("invalid timestamp")

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errInvalidTimestamp, s)
	}
	return t.Local(), nil
}
