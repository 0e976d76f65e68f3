// Package index keeps a queryable history of finished verification runs in
// a local sqlite database.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one finished verification run.
type Run struct {
	RunID        string
	ProposalID   string
	Outcome      string
	Reason       string
	Detail       string
	Commit       string
	ExpectedHash string
	ProducedHash *string
	Image        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	ProposalID string
	Outcome    string
	Limit      int
}

type Index struct {
	db *sql.DB
}

func Open(path string) (*Index, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing index path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Concurrent scans share one connection; sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Record inserts a finished run. Recording the same run id twice replaces
// the earlier row.
func (x *Index) Record(ctx context.Context, r Run) error {
	if x == nil || x.db == nil {
		return errors.New("index not initialized")
	}
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("missing run id")
	}
	if strings.TrimSpace(r.ProposalID) == "" {
		return errors.New("missing proposal id")
	}

	var produced sql.NullString
	if r.ProducedHash != nil {
		produced = sql.NullString{String: *r.ProducedHash, Valid: true}
	}

	_, err := x.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs(run_id, proposal_id, outcome, reason, detail, commit_hash, expected_hash, produced_hash, image, started_at_unix_ms, finished_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		r.RunID,
		r.ProposalID,
		r.Outcome,
		r.Reason,
		r.Detail,
		r.Commit,
		r.ExpectedHash,
		produced,
		r.Image,
		r.StartedAt.UnixMilli(),
		r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.RunID, err)
	}
	return nil
}

// List returns runs newest first.
func (x *Index) List(ctx context.Context, f Filter) ([]Run, error) {
	if x == nil || x.db == nil {
		return nil, errors.New("index not initialized")
	}

	query := `
SELECT run_id, proposal_id, outcome, reason, detail, commit_hash, expected_hash, produced_hash, image, started_at_unix_ms, finished_at_unix_ms
FROM runs
WHERE 1 = 1`
	var args []any
	if f.ProposalID != "" {
		query += ` AND proposal_id = ?`
		args = append(args, f.ProposalID)
	}
	if f.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, f.Outcome)
	}
	query += ` ORDER BY finished_at_unix_ms DESC, run_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var produced sql.NullString
		var started, finished int64
		if err := rows.Scan(
			&r.RunID,
			&r.ProposalID,
			&r.Outcome,
			&r.Reason,
			&r.Detail,
			&r.Commit,
			&r.ExpectedHash,
			&produced,
			&r.Image,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if produced.Valid {
			s := produced.String
			r.ProducedHash = &s
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the most recent run for a proposal, or nil if there is none.
func (x *Index) Latest(ctx context.Context, proposalID string) (*Run, error) {
	runs, err := x.List(ctx, Filter{ProposalID: proposalID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Prune deletes runs that finished before cutoff and reports how many.
func (x *Index) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if x == nil || x.db == nil {
		return 0, errors.New("index not initialized")
	}
	res, err := x.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at_unix_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	// Schema versions:
	// - v1: initial runs table
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  proposal_id TEXT NOT NULL,
  outcome TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT '',
  commit_hash TEXT NOT NULL DEFAULT '',
  expected_hash TEXT NOT NULL DEFAULT '',
  produced_hash TEXT,
  image TEXT NOT NULL DEFAULT '',
  started_at_unix_ms INTEGER NOT NULL,
  finished_at_unix_ms INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("create table v1: %w", err)
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS runs_proposal ON runs(proposal_id, finished_at_unix_ms);`); err != nil {
		return fmt.Errorf("create index v1: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d;", targetVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
