// Package history persists dispatch outcomes and fate decisions so the
// scorer can consult a responder's recent success rate and escalations can
// surface the full decision trail.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Dicklesworthstone/quorum/internal/dispatch"
	"github.com/Dicklesworthstone/quorum/internal/plan"
)

// InMemoryDSN opens a throwaway store for tests and credential-less runs.
const InMemoryDSN = ":memory:"

// DefaultRecentWindow is how many recent outcomes feed the success rate.
const DefaultRecentWindow = 20

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id      TEXT NOT NULL,
	plan_id      TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	responder    TEXT NOT NULL,
	lane         TEXT NOT NULL,
	status       TEXT NOT NULL,
	latency_ms   INTEGER NOT NULL DEFAULT 0,
	cost         REAL NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_responder ON outcomes(responder, id);
CREATE INDEX IF NOT EXISTS idx_outcomes_task ON outcomes(task_id);

CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT NOT NULL,
	plan_id    TEXT NOT NULL,
	attempt    INTEGER NOT NULL,
	fate       TEXT NOT NULL,
	overall    REAL NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_task ON decisions(task_id, attempt);
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path; use InMemoryDSN for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	// SQLite handles do not tolerate concurrent writers on one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordBatch persists every outcome of a dispatched batch.
func (s *Store) RecordBatch(b *dispatch.Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin outcome tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO outcomes
		(task_id, plan_id, candidate_id, responder, lane, status, latency_ms, cost, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, o := range b.Outcomes {
		c := o.Candidate
		if _, err := stmt.Exec(b.TaskID, b.PlanID, c.ID, c.ResponderName, c.Lane.String(),
			c.Status.String(), c.LatencyMs, o.IncurredCost, c.Err, now); err != nil {
			return fmt.Errorf("insert outcome %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Decision is one fate record in a task's trail.
type Decision struct {
	TaskID    string    `json:"task_id"`
	PlanID    string    `json:"plan_id"`
	Attempt   int       `json:"attempt"`
	Fate      string    `json:"fate"`
	Overall   float64   `json:"overall"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordDecision persists one fate decision.
func (s *Store) RecordDecision(d Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO decisions
		(task_id, plan_id, attempt, fate, overall, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.TaskID, d.PlanID, d.Attempt, d.Fate, d.Overall, d.Reason, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision for task %s: %w", d.TaskID, err)
	}
	return nil
}

// RecentSuccessRate returns the share of the responder's most recent
// outcomes (up to window, DefaultRecentWindow when window <= 0) that
// produced output. ok is false when the responder has no history yet.
func (s *Store) RecentSuccessRate(responder string, window int) (rate float64, ok bool, err error) {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	rows, err := s.db.Query(`SELECT status FROM outcomes
		WHERE responder = ? ORDER BY id DESC LIMIT ?`, responder, window)
	if err != nil {
		return 0, false, fmt.Errorf("query recent outcomes for %s: %w", responder, err)
	}
	defer rows.Close()

	total, succeeded := 0, 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, false, fmt.Errorf("scan outcome status: %w", err)
		}
		total++
		if plan.CandidateStatus(status) != plan.StatusFailed {
			succeeded++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	if total == 0 {
		return 0, false, nil
	}
	return float64(succeeded) / float64(total), true, nil
}

// OutcomeRecord is one persisted candidate outcome.
type OutcomeRecord struct {
	TaskID      string    `json:"task_id"`
	PlanID      string    `json:"plan_id"`
	CandidateID string    `json:"candidate_id"`
	Responder   string    `json:"responder"`
	Lane        string    `json:"lane"`
	Status      string    `json:"status"`
	LatencyMs   int64     `json:"latency_ms"`
	Cost        float64   `json:"cost"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Trail is the full persisted history of one task.
type Trail struct {
	TaskID    string          `json:"task_id"`
	Outcomes  []OutcomeRecord `json:"outcomes"`
	Decisions []Decision      `json:"decisions"`
}

// TaskTrail loads everything recorded for a task, in insertion order. A
// task with no records yields an empty trail, not an error.
func (s *Store) TaskTrail(taskID string) (Trail, error) {
	trail := Trail{TaskID: taskID}

	rows, err := s.db.Query(`SELECT task_id, plan_id, candidate_id, responder, lane,
		status, latency_ms, cost, error, created_at
		FROM outcomes WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return trail, fmt.Errorf("query outcomes for task %s: %w", taskID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r OutcomeRecord
		if err := rows.Scan(&r.TaskID, &r.PlanID, &r.CandidateID, &r.Responder, &r.Lane,
			&r.Status, &r.LatencyMs, &r.Cost, &r.Error, &r.CreatedAt); err != nil {
			return trail, fmt.Errorf("scan outcome: %w", err)
		}
		trail.Outcomes = append(trail.Outcomes, r)
	}
	if err := rows.Err(); err != nil {
		return trail, err
	}

	drows, err := s.db.Query(`SELECT task_id, plan_id, attempt, fate, overall, reason, created_at
		FROM decisions WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return trail, fmt.Errorf("query decisions for task %s: %w", taskID, err)
	}
	defer drows.Close()
	for drows.Next() {
		var d Decision
		if err := drows.Scan(&d.TaskID, &d.PlanID, &d.Attempt, &d.Fate, &d.Overall,
			&d.Reason, &d.CreatedAt); err != nil {
			return trail, fmt.Errorf("scan decision: %w", err)
		}
		trail.Decisions = append(trail.Decisions, d)
	}
	return trail, drows.Err()
}

// ResponderStats summarizes one responder's persisted record.
type ResponderStats struct {
	Responder string  `json:"responder"`
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	AvgCost   float64 `json:"avg_cost"`
}

// Stats aggregates per-responder totals across all history.
func (s *Store) Stats() ([]ResponderStats, error) {
	rows, err := s.db.Query(`SELECT responder,
		COUNT(*),
		SUM(CASE WHEN status != ? THEN 1 ELSE 0 END),
		AVG(cost)
		FROM outcomes GROUP BY responder ORDER BY responder`, plan.StatusFailed.String())
	if err != nil {
		return nil, fmt.Errorf("query responder stats: %w", err)
	}
	defer rows.Close()

	var out []ResponderStats
	for rows.Next() {
		var st ResponderStats
		if err := rows.Scan(&st.Responder, &st.Total, &st.Succeeded, &st.AvgCost); err != nil {
			return nil, fmt.Errorf("scan responder stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
