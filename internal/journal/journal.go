// Package journal keeps a local sqlite record of task lifecycle events
// and report deliveries. It exists for operators debugging an edge
// node; writes are best effort and never fail the caller.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT NOT NULL,
	event      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);

CREATE TABLE IF NOT EXISTS report_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	business   TEXT NOT NULL,
	ok         INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// Journal is a sqlite-backed event log.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return &Journal{db: db, logger: logger.With("component", "journal")}, nil
}

// TaskEvent is one recorded lifecycle event.
type TaskEvent struct {
	TaskID    string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// RecordTaskEvent appends a lifecycle event. Errors are logged, not
// returned.
func (j *Journal) RecordTaskEvent(taskID, event, detail string) {
	_, err := j.db.Exec(
		"INSERT INTO task_events (task_id, event, detail, created_at) VALUES (?, ?, ?, ?)",
		taskID, event, detail, time.Now().UTC())
	if err != nil {
		j.logger.Warn("task event not recorded", "task_id", taskID, "event", event, "error", err)
	}
}

// RecordReport appends a report delivery outcome. Errors are logged,
// not returned.
func (j *Journal) RecordReport(business string, ok bool) {
	_, err := j.db.Exec(
		"INSERT INTO report_events (business, ok, created_at) VALUES (?, ?, ?)",
		business, ok, time.Now().UTC())
	if err != nil {
		j.logger.Warn("report event not recorded", "business", business, "error", err)
	}
}

// RecentTaskEvents returns up to limit events for a task, newest first.
func (j *Journal) RecentTaskEvents(taskID string, limit int) ([]TaskEvent, error) {
	rows, err := j.db.Query(
		"SELECT task_id, event, detail, created_at FROM task_events WHERE task_id = ? ORDER BY id DESC LIMIT ?",
		taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		var e TaskEvent
		if err := rows.Scan(&e.TaskID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
