// ABOUTME: SQLite-backed index for fast run and step queries without replaying events.
// ABOUTME: Provides upsert, list, and rebuild operations synchronized with the event log.
package store

import (
	"database/sql"
	"fmt"

	"github.com/2389-research/graphrun/core"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// RunSummary is a summary of a run for list queries, matching the API's shape.
type RunSummary struct {
	RunID     string
	GraphHash string
	State     string
	StartedAt string
	EndedAt   *string
}

// StepRow is a row from the steps table for list query results.
type StepRow struct {
	StepID string
	RunID  string
	NodeID string
	Index  uint64
	Status string
}

// SqliteIndex is a SQLite-backed index that mirrors run and step data for
// fast reads. This index is always rebuildable from the event log and serves
// as a queryable cache, not the source of truth.
type SqliteIndex struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite index database at the given path.
// Runs migrations to ensure the schema is up to date.
func OpenSqlite(path string) (*SqliteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			graph_hash TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		);

		CREATE TABLE IF NOT EXISTS steps (
			step_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteIndex{db: db}, nil
}

// Close closes the SQLite database connection.
func (idx *SqliteIndex) Close() error {
	return idx.db.Close()
}

// UpsertRun upserts a run row.
func (idx *SqliteIndex) UpsertRun(run *core.Run) error {
	var ended *string
	if run.EndedAt != nil {
		s := run.EndedAt.Format("2006-01-02T15:04:05Z07:00")
		ended = &s
	}
	_, err := idx.db.Exec(
		`INSERT INTO runs (run_id, graph_hash, state, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			graph_hash = excluded.graph_hash,
			state = excluded.state,
			ended_at = excluded.ended_at`,
		run.RunID.String(), run.GraphHash, string(run.State),
		run.StartedAt.Format("2006-01-02T15:04:05Z07:00"), ended,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// UpsertStep upserts a step row.
func (idx *SqliteIndex) UpsertStep(step *core.Step) error {
	_, err := idx.db.Exec(
		`INSERT INTO steps (step_id, run_id, node_id, step_index, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(step_id) DO UPDATE SET status = excluded.status`,
		step.StepID.String(), step.RunID.String(), step.NodeID, step.Index, string(step.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

// ListRuns returns all runs as summaries, ordered by started_at descending.
func (idx *SqliteIndex) ListRuns() ([]RunSummary, error) {
	rows, err := idx.db.Query(
		"SELECT run_id, graph_hash, state, started_at, ended_at FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.GraphHash, &r.State, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListSteps returns all steps for a given run, ordered by step_index ascending.
func (idx *SqliteIndex) ListSteps(runID ulid.ULID) ([]StepRow, error) {
	rows, err := idx.db.Query(
		`SELECT step_id, run_id, node_id, step_index, status
		 FROM steps WHERE run_id = ? ORDER BY step_index ASC`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []StepRow
	for rows.Next() {
		var s StepRow
		if err := rows.Scan(&s.StepID, &s.RunID, &s.NodeID, &s.Index, &s.Status); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// GetLastSeq returns the last sequence number indexed for runID, from the meta table.
func (idx *SqliteIndex) GetLastSeq(runID ulid.ULID) (uint64, bool, error) {
	var val string
	err := idx.db.QueryRow("SELECT value FROM meta WHERE key = ?", "last_seq:"+runID.String()).Scan(&val)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query last_seq: %w", err)
	}
	var seq uint64
	if _, err := fmt.Sscanf(val, "%d", &seq); err != nil {
		return 0, false, fmt.Errorf("parse last_seq: %w", err)
	}
	return seq, true, nil
}

// SetLastSeq stores the last indexed sequence number for runID in the meta table.
func (idx *SqliteIndex) SetLastSeq(runID ulid.ULID, seq uint64) error {
	_, err := idx.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		"last_seq:"+runID.String(), fmt.Sprintf("%d", seq))
	if err != nil {
		return fmt.Errorf("set last_seq: %w", err)
	}
	return nil
}

// RebuildFromEvents clears a run's rows and rebuilds them from its full event list.
func (idx *SqliteIndex) RebuildFromEvents(runID ulid.ULID, events []core.Event) error {
	if _, err := idx.db.Exec("DELETE FROM steps WHERE run_id = ?", runID.String()); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	if _, err := idx.db.Exec("DELETE FROM runs WHERE run_id = ?", runID.String()); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}

	for i := range events {
		if err := idx.ApplyEvent(&events[i]); err != nil {
			return fmt.Errorf("apply event seq %d during rebuild: %w", events[i].Seq, err)
		}
	}

	return nil
}

// ApplyEvent incrementally applies a single event to update the index.
func (idx *SqliteIndex) ApplyEvent(event *core.Event) error {
	ts := event.Timestamp.Format("2006-01-02T15:04:05Z07:00")

	switch p := event.Payload.(type) {
	case core.RunStartedPayload:
		_, err := idx.db.Exec(
			`INSERT INTO runs (run_id, graph_hash, state, started_at, ended_at)
			 VALUES (?, ?, 'RUNNING', ?, NULL)
			 ON CONFLICT(run_id) DO UPDATE SET graph_hash = excluded.graph_hash, state = 'RUNNING'`,
			event.RunID.String(), p.GraphHash, ts)
		if err != nil {
			return fmt.Errorf("apply RunStarted: %w", err)
		}

	case core.StepStartedPayload:
		_, err := idx.db.Exec(
			`INSERT INTO steps (step_id, run_id, node_id, step_index, status)
			 VALUES (?, ?, ?, ?, 'RUNNING')
			 ON CONFLICT(step_id) DO UPDATE SET status = 'RUNNING'`,
			p.StepID.String(), event.RunID.String(), p.NodeID, p.Index)
		if err != nil {
			return fmt.Errorf("apply StepStarted: %w", err)
		}

	case core.StepCompletedPayload:
		if _, err := idx.db.Exec("UPDATE steps SET status = 'SUCCESS' WHERE step_id = ?", p.StepID.String()); err != nil {
			return fmt.Errorf("apply StepCompleted: %w", err)
		}

	case core.StepFailedPayload:
		status := "ERROR"
		if p.Skipped {
			status = "SKIPPED"
		}
		if _, err := idx.db.Exec("UPDATE steps SET status = ? WHERE step_id = ?", status, p.StepID.String()); err != nil {
			return fmt.Errorf("apply StepFailed: %w", err)
		}

	case core.RunCompletedPayload:
		if _, err := idx.db.Exec("UPDATE runs SET state = 'COMPLETED', ended_at = ? WHERE run_id = ?",
			ts, event.RunID.String()); err != nil {
			return fmt.Errorf("apply RunCompleted: %w", err)
		}

	case core.RunFailedPayload:
		if _, err := idx.db.Exec("UPDATE runs SET state = 'FAILED', ended_at = ? WHERE run_id = ?",
			ts, event.RunID.String()); err != nil {
			return fmt.Errorf("apply RunFailed: %w", err)
		}

	case core.RunCancelledPayload:
		if _, err := idx.db.Exec("UPDATE runs SET state = 'CANCELLED', ended_at = ? WHERE run_id = ?",
			ts, event.RunID.String()); err != nil {
			return fmt.Errorf("apply RunCancelled: %w", err)
		}

	default:
		// Observability-only payloads (token_update, error, mcp_call, agent_step) don't affect the index.
	}

	if err := idx.SetLastSeq(event.RunID, event.Seq); err != nil {
		return fmt.Errorf("set last_seq after apply: %w", err)
	}

	return nil
}
