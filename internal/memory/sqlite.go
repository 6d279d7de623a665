package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TranscriptStore persists finished run transcripts in SQLite. One row per
// step, keyed by run ID and index, payload serialized as JSON.
type TranscriptStore struct {
	db *sql.DB
}

// RunMeta describes a persisted run for listing.
type RunMeta struct {
	RunID     string
	AgentName string
	Steps     int
	SavedAt   time.Time
}

// OpenTranscriptStore opens (or creates) the sqlite database at path and
// ensures the schema. WAL mode keeps concurrent readers cheap.
func OpenTranscriptStore(ctx context.Context, path string) (*TranscriptStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript db: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &TranscriptStore{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			steps      INTEGER NOT NULL,
			saved_at   INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS steps (
			run_id  TEXT NOT NULL,
			idx     INTEGER NOT NULL,
			kind    TEXT NOT NULL,
			at      INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure transcript schema: %w", err)
	}
	return nil
}

// SaveRun persists the full transcript of a run. Re-saving the same run ID
// replaces the previous rows.
func (t *TranscriptStore) SaveRun(ctx context.Context, runID, agentName string, entries []Entry) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear previous steps: %w", err)
	}
	for _, e := range entries {
		payload, err := json.Marshal(e.Step)
		if err != nil {
			return fmt.Errorf("failed to marshal step %d: %w", e.Index, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO steps (run_id, idx, kind, at, payload) VALUES (?, ?, ?, ?, ?)
		`, runID, e.Index, string(e.Step.Kind()), e.At.UnixMilli(), string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", e.Index, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, agent_name, steps, saved_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET agent_name=excluded.agent_name, steps=excluded.steps, saved_at=excluded.saved_at
	`, runID, agentName, len(entries), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return tx.Commit()
}

// LoadRun reads a persisted transcript back into ordered entries.
func (t *TranscriptStore) LoadRun(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT idx, kind, at, payload FROM steps WHERE run_id = ? ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			idx     int
			kind    string
			atMilli int64
			payload string
		)
		if err := rows.Scan(&idx, &kind, &atMilli, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step, err := decodeStep(StepKind(kind), []byte(payload))
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Index: idx, At: time.UnixMilli(atMilli), Step: step})
	}
	return entries, rows.Err()
}

// ListRuns returns persisted run metadata, newest first.
func (t *TranscriptStore) ListRuns(ctx context.Context) ([]RunMeta, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, agent_name, steps, saved_at FROM runs ORDER BY saved_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var metas []RunMeta
	for rows.Next() {
		var (
			m       RunMeta
			savedAt int64
		)
		if err := rows.Scan(&m.RunID, &m.AgentName, &m.Steps, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		m.SavedAt = time.UnixMilli(savedAt)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Close releases the underlying database handle.
func (t *TranscriptStore) Close() error { return t.db.Close() }

func decodeStep(kind StepKind, payload []byte) (Step, error) {
	switch kind {
	case KindSystem:
		var s SystemStep
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindTask:
		var s TaskStep
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindPlanning:
		var s PlanningStep
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindAction:
		var s ActionStep
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindFinal:
		var s FinalStep
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("memory: unknown step kind %q", kind)
	}
}
